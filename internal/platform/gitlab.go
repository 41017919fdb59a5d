package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"basegraph.app/courier/internal/domain"
)

const (
	gitLabPlatform      domain.Platform = "gitlab"
	gitLabMaxNoteLength                 = 1_000_000
	gitLabTodoPageSize                  = 50
)

var issueURLPattern = regexp.MustCompile(`/-/issues/(\d+)(?:#note_(\d+))?$`)

type GitLabConfig struct {
	BaseURL  string
	Token    string
	Username string
}

// GitLab turns pending to-do items (mentions of the configured user on
// issues) into events and replies inside the issue discussion.
type GitLab struct {
	client   *gitlab.Client
	username string
}

func NewGitLab(cfg GitLabConfig) (*GitLab, error) {
	var (
		client *gitlab.Client
		err    error
	)
	if cfg.BaseURL == "" {
		client, err = gitlab.NewClient(cfg.Token)
	} else {
		apiURL := strings.TrimSuffix(cfg.BaseURL, "/") + "/api/v4"
		client, err = gitlab.NewClient(cfg.Token, gitlab.WithBaseURL(apiURL))
	}
	if err != nil {
		return nil, fmt.Errorf("creating gitlab client: %w", err)
	}
	return &GitLab{client: client, username: strings.ToLower(cfg.Username)}, nil
}

func (g *GitLab) Name() domain.Platform { return gitLabPlatform }

func (g *GitLab) MaxPostLength() int { return gitLabMaxNoteLength }

// FetchNew lists pending to-dos newer than cursor, a to-do id.
func (g *GitLab) FetchNew(ctx context.Context, cursor string) ([]domain.Event, string, error) {
	after, _ := strconv.ParseInt(cursor, 10, 64)

	todos, _, err := g.client.Todos.ListTodos(&gitlab.ListTodosOptions{
		State:       gitlab.Ptr("pending"),
		ListOptions: gitlab.ListOptions{PerPage: gitLabTodoPageSize},
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, cursor, g.wrap("list todos", err)
	}

	newest := after
	var events []domain.Event
	for _, todo := range todos {
		if todo == nil || todo.Project == nil {
			continue
		}
		todoID := int64(todo.ID)
		if todoID <= after {
			continue
		}
		if todoID > newest {
			newest = todoID
		}
		if todo.Author != nil && strings.EqualFold(todo.Author.Username, g.username) {
			continue
		}

		ref, ok := parseIssueURL(int64(todo.Project.ID), todo.TargetURL)
		if !ok {
			continue
		}

		ev := domain.Event{
			ID:        ref.eventID(todoID),
			Platform:  gitLabPlatform,
			Kind:      todoKind(string(todo.ActionName), ref),
			Text:      todo.Body,
			ThreadRef: gitlab.Ptr(ref.threadRef()),
		}
		if todo.Author != nil {
			ev.AuthorHandle = todo.Author.Username
		}
		if todo.CreatedAt != nil {
			ev.CreatedAt = todo.CreatedAt.UTC()
		}
		events = append(events, ev)
	}

	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })
	return events, strconv.FormatInt(newest, 10), nil
}

// FetchThread loads the issue and its discussions. The issue description is
// the root; each note's parent is the previous note of its discussion.
func (g *GitLab) FetchThread(ctx context.Context, eventID string) (domain.ThreadGraph, error) {
	ref, err := parseEventID(eventID)
	if err != nil {
		return domain.ThreadGraph{}, &Error{Platform: gitLabPlatform, Op: "fetch thread", Status: http.StatusBadRequest, Err: err}
	}

	issue, _, err := g.client.Issues.GetIssue(ref.projectID, ref.issueIID, nil, gitlab.WithContext(ctx))
	if err != nil {
		return domain.ThreadGraph{}, g.wrap("get issue", err)
	}

	rootID := ref.threadRef()
	root := domain.Message{
		ID:   rootID,
		Text: strings.TrimSpace(issue.Title + "\n\n" + issue.Description),
	}
	if issue.Author != nil {
		root.AuthorHandle = issue.Author.Username
	}
	if issue.CreatedAt != nil {
		root.CreatedAt = issue.CreatedAt.UTC()
	}

	graph := domain.ThreadGraph{RootID: rootID, Messages: map[string]domain.Message{rootID: root}}

	discussions, _, err := g.client.Discussions.ListIssueDiscussions(ref.projectID, ref.issueIID, nil, gitlab.WithContext(ctx))
	if err != nil {
		graph.Missing = append(graph.Missing, "discussions of "+rootID)
		return graph, nil
	}

	for _, d := range discussions {
		if d == nil {
			continue
		}
		parent := rootID
		for _, n := range d.Notes {
			if n == nil || n.System {
				continue
			}
			id := ref.noteID(fmt.Sprint(n.ID))
			msg := domain.Message{
				ID:           id,
				ParentID:     parent,
				AuthorHandle: n.Author.Username,
				Text:         n.Body,
			}
			if n.CreatedAt != nil {
				msg.CreatedAt = n.CreatedAt.UTC()
			}
			graph.Messages[id] = msg
			parent = id
		}
	}

	return graph, nil
}

// Post replies inside the discussion holding req.ReplyTo, or opens a new
// note on the issue named by req.ThreadRef.
func (g *GitLab) Post(ctx context.Context, req PostRequest) (PostResult, error) {
	target := req.ReplyTo
	if target == "" {
		target = req.ThreadRef
	}
	ref, err := parseEventID(target)
	if err != nil {
		return PostResult{}, &Error{Platform: gitLabPlatform, Op: "post", Status: http.StatusBadRequest, Err: err}
	}

	if ref.note != "" && req.ReplyTo != "" {
		discussionID, err := g.discussionOf(ctx, ref)
		if err != nil {
			return PostResult{}, err
		}
		if discussionID != "" {
			note, _, err := g.client.Discussions.AddIssueDiscussionNote(ref.projectID, ref.issueIID, discussionID,
				&gitlab.AddIssueDiscussionNoteOptions{Body: gitlab.Ptr(req.Text)}, gitlab.WithContext(ctx))
			if err != nil {
				return PostResult{}, g.wrap("add discussion note", err)
			}
			return noteResult(ref, fmt.Sprint(note.ID), note.CreatedAt), nil
		}
	}

	note, _, err := g.client.Notes.CreateIssueNote(ref.projectID, ref.issueIID,
		&gitlab.CreateIssueNoteOptions{Body: gitlab.Ptr(req.Text)}, gitlab.WithContext(ctx))
	if err != nil {
		return PostResult{}, g.wrap("create note", err)
	}
	return noteResult(ref, fmt.Sprint(note.ID), note.CreatedAt), nil
}

func (g *GitLab) discussionOf(ctx context.Context, ref issueRef) (string, error) {
	discussions, _, err := g.client.Discussions.ListIssueDiscussions(ref.projectID, ref.issueIID, nil, gitlab.WithContext(ctx))
	if err != nil {
		return "", g.wrap("list discussions", err)
	}
	for _, d := range discussions {
		if d == nil {
			continue
		}
		for _, n := range d.Notes {
			if n != nil && fmt.Sprint(n.ID) == ref.note {
				return d.ID, nil
			}
		}
	}
	return "", nil
}

func (g *GitLab) wrap(op string, err error) error {
	var resp *gitlab.ErrorResponse
	if errors.As(err, &resp) && resp.Response != nil {
		return &Error{Platform: gitLabPlatform, Op: op, Status: resp.Response.StatusCode, Err: err}
	}
	return fmt.Errorf("gitlab %s: %w", op, err)
}

func noteResult(ref issueRef, noteID string, createdAt *time.Time) PostResult {
	res := PostResult{ID: ref.noteID(noteID), CreatedAt: time.Now().UTC()}
	if createdAt != nil {
		res.CreatedAt = createdAt.UTC()
	}
	return res
}

// todoKind maps a to-do to an event kind. A mention inside a note is a reply
// in an ongoing discussion; anything else addresses the issue itself.
func todoKind(action string, ref issueRef) domain.EventKind {
	if ref.note != "" && (action == "mentioned" || action == "directly_addressed") {
		return domain.EventKindReply
	}
	return domain.EventKindMention
}

// issueRef addresses an issue, and optionally one note on it, as
// "<project>/issues/<iid>[#note_<id>]".
type issueRef struct {
	projectID int64
	issueIID  int64
	note      string
}

func (r issueRef) threadRef() string {
	return fmt.Sprintf("%d/issues/%d", r.projectID, r.issueIID)
}

func (r issueRef) noteID(note string) string {
	return r.threadRef() + "#note_" + note
}

func (r issueRef) eventID(todoID int64) string {
	if r.note != "" {
		return r.noteID(r.note)
	}
	return fmt.Sprintf("%s#todo_%d", r.threadRef(), todoID)
}

func parseIssueURL(projectID int64, targetURL string) (issueRef, bool) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return issueRef{}, false
	}
	path := u.Path
	if u.Fragment != "" {
		path += "#" + u.Fragment
	}
	m := issueURLPattern.FindStringSubmatch(path)
	if m == nil {
		return issueRef{}, false
	}
	iid, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return issueRef{}, false
	}
	return issueRef{projectID: projectID, issueIID: iid, note: m[2]}, true
}

func parseEventID(id string) (issueRef, error) {
	base, fragment, _ := strings.Cut(id, "#")
	parts := strings.Split(base, "/")
	if len(parts) != 3 || parts[1] != "issues" {
		return issueRef{}, fmt.Errorf("malformed gitlab reference %q", id)
	}
	pid, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return issueRef{}, fmt.Errorf("malformed project in %q: %w", id, err)
	}
	iid, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return issueRef{}, fmt.Errorf("malformed issue in %q: %w", id, err)
	}
	ref := issueRef{projectID: pid, issueIID: iid}
	if note, ok := strings.CutPrefix(fragment, "note_"); ok {
		ref.note = note
	}
	return ref, nil
}
