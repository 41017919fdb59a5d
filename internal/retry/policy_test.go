package retry_test

import (
	"math"
	"time"

	"basegraph.app/courier/internal/retry"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Policy", func() {
	policy := retry.Policy{BaseDelay: time.Second, MaxDelay: 10 * time.Second, MaxAttempts: 3}

	DescribeTable("Backoff doubles per attempt and caps",
		func(attempts int, expected time.Duration) {
			Expect(policy.Backoff(attempts)).To(Equal(expected))
		},
		Entry("first", 0, time.Second),
		Entry("second", 1, 2*time.Second),
		Entry("third", 2, 4*time.Second),
		Entry("fourth", 3, 8*time.Second),
		Entry("capped", 4, 10*time.Second),
		Entry("far past the cap", 40, 10*time.Second),
		Entry("negative treated as zero", -2, time.Second),
	)

	It("never goes negative without a cap", func() {
		uncapped := retry.Policy{BaseDelay: 30 * time.Second}
		Expect(uncapped.Backoff(3)).To(Equal(240 * time.Second))
		for _, attempts := range []int{40, 63, 64, 200} {
			Expect(uncapped.Backoff(attempts)).To(Equal(time.Duration(math.MaxInt64)), "attempts=%d", attempts)
		}
		Expect(retry.Policy{MaxDelay: -time.Second}.Backoff(5)).To(BeZero())
	})

	It("is exhausted at max attempts", func() {
		Expect(policy.Exhausted(2)).To(BeFalse())
		Expect(policy.Exhausted(3)).To(BeTrue())
		Expect(policy.Exhausted(4)).To(BeTrue())
	})
})
