package llm_test

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"basegraph.app/courier/common/llm"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("SanitizeName", func() {
	DescribeTable("sanitizes usernames for OpenAI name parameter",
		func(input, expected string) {
			Expect(llm.SanitizeName(input)).To(Equal(expected))
		},
		Entry("valid name unchanged", "alice", "alice"),
		Entry("dots replaced with underscore", "alice.bsky.social", "alice_bsky_social"),
		Entry("@ replaced with underscore", "alice@dev", "alice_dev"),
		Entry("hyphens preserved", "alice-dev", "alice-dev"),
		Entry("multiple special chars replaced", "alice.smith@dev!", "alice_smith_dev_"),
		Entry("long name truncated to 64 chars", strings.Repeat("a", 100), strings.Repeat("a", 64)),
		Entry("empty string unchanged", "", ""),
	)
})

var _ = Describe("New", func() {
	It("requires an API key", func() {
		_, err := llm.New(llm.Config{Provider: llm.ProviderOpenAI})
		Expect(err).To(MatchError(ContainSubstring("API key is required")))
	})

	It("rejects unknown providers", func() {
		_, err := llm.New(llm.Config{Provider: "mystery", APIKey: "k"})
		Expect(err).To(MatchError(ContainSubstring("unsupported LLM provider")))
	})

	It("applies provider default models", func() {
		c, err := llm.New(llm.Config{Provider: llm.ProviderAnthropic, APIKey: "k"})
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Model()).NotTo(BeEmpty())
	})
})

var _ = Describe("GenerateSchema", func() {
	type decision struct {
		Action string `json:"action" jsonschema:"enum=reply,enum=ignore"`
		Text   string `json:"text"`
	}

	It("produces a closed object schema", func() {
		doc, err := llm.SchemaDocument(llm.GenerateSchema[decision]())
		Expect(err).NotTo(HaveOccurred())
		Expect(doc).To(HaveKeyWithValue("type", "object"))
		Expect(doc).To(HaveKeyWithValue("additionalProperties", false))
		Expect(doc["properties"]).To(HaveKey("action"))
	})
})

var _ = Describe("IsRetryable", func() {
	ctx := context.Background()

	DescribeTable("classifies API errors",
		func(err error, expected bool) {
			Expect(llm.IsRetryable(ctx, err)).To(Equal(expected))
		},
		Entry("nil", nil, false),
		Entry("rate limited", &llm.APIError{Provider: "openai", StatusCode: 429, Err: errors.New("slow down")}, true),
		Entry("server error", fmt.Errorf("call: %w", &llm.APIError{Provider: "anthropic", StatusCode: 529, Err: errors.New("overloaded")}), true),
		Entry("bad request", &llm.APIError{Provider: "openai", StatusCode: 400, Err: errors.New("bad schema")}, false),
		Entry("cancelled", context.Canceled, false),
		Entry("deadline", context.DeadlineExceeded, true),
		Entry("network", errors.New("connection reset"), true),
	)

	It("exposes the status for classification", func() {
		err := &llm.APIError{Provider: "openai", StatusCode: 503, Err: errors.New("x")}
		Expect(err.HTTPStatus()).To(Equal(503))
	})
})
