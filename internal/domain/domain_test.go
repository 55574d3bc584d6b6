package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentDecodesBothShapes(t *testing.T) {
	var msgs []Message
	require.NoError(t, json.Unmarshal([]byte(`[
		{"role": "user", "content": "plain question"},
		{"role": "user", "content": [{"type": "text", "text": "part one"}, {"type": "image", "text": "ignored"}, {"type": "text", "text": "part two"}]},
		{"role": "assistant", "content": null}
	]`), &msgs))
	require.Len(t, msgs, 3)

	assert.False(t, msgs[0].Content.IsParts())
	assert.Equal(t, "plain question", msgs[0].Content.Text())
	assert.Equal(t, []ContentPart{{Type: PartTypeText, Text: "plain question"}}, msgs[0].Content.Parts())

	assert.True(t, msgs[1].Content.IsParts())
	assert.Equal(t, "part one\npart two", msgs[1].Content.Text())
	assert.Len(t, msgs[1].Content.Parts(), 3)

	assert.Empty(t, msgs[2].Content.Text())
	assert.Nil(t, msgs[2].Content.Parts())
}

func TestContentRejectsOtherShapes(t *testing.T) {
	var c Content
	require.Error(t, json.Unmarshal([]byte(`42`), &c))
	require.Error(t, json.Unmarshal([]byte(`{"text": "x"}`), &c))
}

func TestContentEncodesVariant(t *testing.T) {
	data, err := json.Marshal(Message{Role: RoleUser, Content: TextContent("hi")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role": "user", "content": "hi"}`, string(data))

	data, err = json.Marshal(Message{Role: RoleUser, Content: PartsContent()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role": "user", "content": []}`, string(data))
}

func TestContentEqual(t *testing.T) {
	assert.True(t, TextContent("a").Equal(TextContent("a")))
	assert.False(t, TextContent("a").Equal(PartsContent(ContentPart{Type: PartTypeText, Text: "a"})))
	assert.True(t, PartsContent(ContentPart{Type: PartTypeText, Text: "a"}).Equal(PartsContent(ContentPart{Type: PartTypeText, Text: "a"})))
	assert.False(t, PartsContent(ContentPart{Type: PartTypeText, Text: "a"}).Equal(PartsContent()))
}

func TestCloneMessagesSharesNothing(t *testing.T) {
	parts := []ContentPart{{Type: PartTypeText, Text: "original"}}
	msgs := []Message{{Role: RoleUser, Content: PartsContent(parts...)}}
	clone := CloneMessages(msgs)

	got := clone[0].Content.Parts()
	got[0].Text = "changed"
	assert.Equal(t, "original", msgs[0].Content.Parts()[0].Text)
	assert.Nil(t, CloneMessages(nil))
}

func TestJobStatusProjection(t *testing.T) {
	submitted := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	resolved := submitted.Add(time.Second)

	pending := Job{ID: "j", OwnerID: "u", State: JobPending, SubmittedAt: submitted}
	st := pending.Status()
	assert.Equal(t, JobPending, st.State)
	assert.Nil(t, st.Result)
	assert.True(t, st.ResolvedAt.IsZero())

	done := Job{ID: "j", OwnerID: "u", State: JobCompleted, Result: &JobResult{Response: "ok"}, Error: "stale", SubmittedAt: submitted, ResolvedAt: resolved}
	st = done.Status()
	assert.Equal(t, "ok", st.Result.Response)
	assert.Empty(t, st.Error, "completed jobs expose no error")
	assert.Equal(t, resolved, st.ResolvedAt)

	failed := Job{ID: "j", OwnerID: "u", State: JobFailed, Result: &JobResult{Response: "partial"}, Error: "boom", SubmittedAt: submitted, ResolvedAt: resolved}
	st = failed.Status()
	assert.Nil(t, st.Result, "failed jobs expose no result")
	assert.Equal(t, "boom", st.Error)

	data, err := json.Marshal(pending.Status())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "resolved_at")
	assert.NotContains(t, string(data), "owner")
}

func TestJobStatusCopiesResult(t *testing.T) {
	job := Job{ID: "j1", State: JobCompleted, Result: &JobResult{
		Response: "ok",
		Sources:  []SourceRef{{FragmentID: "f1", Score: 1}},
	}}

	st := job.Status()
	st.Result.Response = "changed"
	st.Result.Sources[0].FragmentID = "changed"

	assert.Equal(t, "ok", job.Result.Response)
	assert.Equal(t, "f1", job.Result.Sources[0].FragmentID)
	assert.Nil(t, (*JobResult)(nil).Clone())
}

func TestJobStateTerminal(t *testing.T) {
	assert.False(t, JobPending.Terminal())
	assert.True(t, JobCompleted.Terminal())
	assert.True(t, JobFailed.Terminal())
}

func TestFragmentProvenance(t *testing.T) {
	assert.True(t, Fragment{SourcePath: "u/a.pdf"}.FromDocument())
	assert.False(t, Fragment{OwnerID: "u", Content: "mentions report.pdf"}.FromDocument())
	assert.True(t, RetrievalScope{}.Empty())
	assert.False(t, RetrievalScope{OwnerID: "u"}.Empty())
	assert.Equal(t, "u/a.txt", DocumentPath("u", "a.txt"))
	assert.Equal(t, "chat-c1-3", HistoryFragmentID("c1", 3))
}
