package platform

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/courier/internal/domain"
)

var _ = Describe("gitlab references", func() {
	It("parses a to-do target url with a note", func() {
		ref, ok := parseIssueURL(42, "https://gitlab.example.com/group/proj/-/issues/7#note_991")
		Expect(ok).To(BeTrue())
		Expect(ref).To(Equal(issueRef{projectID: 42, issueIID: 7, note: "991"}))
		Expect(ref.eventID(5)).To(Equal("42/issues/7#note_991"))
		Expect(todoKind("mentioned", ref)).To(Equal(domain.EventKindReply))
	})

	It("parses a to-do on the issue itself", func() {
		ref, ok := parseIssueURL(42, "https://gitlab.example.com/group/proj/-/issues/7")
		Expect(ok).To(BeTrue())
		Expect(ref.eventID(5)).To(Equal("42/issues/7#todo_5"))
		Expect(todoKind("assigned", ref)).To(Equal(domain.EventKindMention))
	})

	It("ignores merge request targets", func() {
		_, ok := parseIssueURL(42, "https://gitlab.example.com/group/proj/-/merge_requests/3")
		Expect(ok).To(BeFalse())
	})

	It("round-trips event ids", func() {
		ref, err := parseEventID("42/issues/7#note_991")
		Expect(err).NotTo(HaveOccurred())
		Expect(ref.noteID("991")).To(Equal("42/issues/7#note_991"))

		_, err = parseEventID("not-a-ref")
		Expect(err).To(HaveOccurred())
	})
})
