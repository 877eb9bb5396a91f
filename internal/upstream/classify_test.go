package upstream_test

import (
	"context"
	"errors"
	"net"
	"syscall"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ddevcap/session-gateway/internal/upstream"
)

var _ = Describe("ClassifyError", func() {
	It("classifies a deadline-exceeded context error as a timeout", func() {
		Expect(upstream.ClassifyError(context.DeadlineExceeded)).To(Equal(upstream.ErrorTimeout))
	})

	It("classifies a canceled context error as aborted", func() {
		Expect(upstream.ClassifyError(context.Canceled)).To(Equal(upstream.ErrorAborted))
	})

	It("classifies ECONNREFUSED as refused", func() {
		Expect(upstream.ClassifyError(syscall.ECONNREFUSED)).To(Equal(upstream.ErrorRefused))
	})

	It("classifies ECONNRESET as aborted", func() {
		Expect(upstream.ClassifyError(syscall.ECONNRESET)).To(Equal(upstream.ErrorAborted))
	})

	It("classifies a net.Error reporting Timeout() as a timeout", func() {
		Expect(upstream.ClassifyError(&net.DNSError{IsTimeout: true})).To(Equal(upstream.ErrorTimeout))
	})

	It("classifies an unrecognized error as other", func() {
		Expect(upstream.ClassifyError(errors.New("something went sideways"))).To(Equal(upstream.ErrorOther))
	})

	DescribeTable("MarksUnhealthy",
		func(kind upstream.ErrorKind, marks bool) {
			Expect(kind.MarksUnhealthy()).To(Equal(marks))
		},
		Entry("refused", upstream.ErrorRefused, true),
		Entry("timeout", upstream.ErrorTimeout, true),
		Entry("aborted", upstream.ErrorAborted, true),
		Entry("other", upstream.ErrorOther, false),
	)
})
