package store

import (
	"errors"
	"testing"

	"github.com/helix-hr/helix-client/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const welcome = "Hi, I'm Helix!"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New("session-1", welcome)
}

func TestNewSeedsWelcomeMessage(t *testing.T) {
	st := newTestStore(t)

	msgs := st.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.SenderAI, msgs[0].Sender)
	assert.Equal(t, welcome, msgs[0].Content)
	assert.Equal(t, "session-1", st.SessionID())
}

func TestNewGeneratesSessionIDWhenEmpty(t *testing.T) {
	st := New("", welcome)
	assert.NotEmpty(t, st.SessionID())
}

func TestAddMessageAppends(t *testing.T) {
	st := newTestStore(t)

	msg := st.AddMessage("hello", domain.SenderUser)
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.Timestamp.IsZero())

	msgs := st.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[1].Content)
	assert.Equal(t, domain.SenderUser, msgs[1].Sender)
}

func TestAddSequenceIsIdempotent(t *testing.T) {
	st := newTestStore(t)

	first := st.AddSequence("Software Engineer")
	second := st.AddSequence("Software Engineer")

	assert.Equal(t, first, second)
	require.Len(t, st.Sequences(), 1)
	assert.Equal(t, "Software Engineer", st.Sequences()[0].Role)
}

func TestAddSequenceRoleIdentityIsCaseInsensitive(t *testing.T) {
	st := newTestStore(t)

	first := st.AddSequence("Software Engineer")
	second := st.AddSequence("software engineer")

	assert.Equal(t, first, second)
	seqs := st.Sequences()
	require.Len(t, seqs, 1)
	// Casing from the first call is preserved.
	assert.Equal(t, "Software Engineer", seqs[0].Role)
}

func TestAddSequenceSetsActive(t *testing.T) {
	st := newTestStore(t)

	id := st.AddSequence("Nurses")
	assert.Equal(t, id, st.ActiveSequenceID())

	other := st.AddSequence("Drivers")
	assert.Equal(t, other, st.ActiveSequenceID())

	// Re-adding an existing role re-activates it.
	st.AddSequence("nurses")
	assert.Equal(t, id, st.ActiveSequenceID())
}

func TestRemoveSequencePromotesNextActive(t *testing.T) {
	st := newTestStore(t)

	first := st.AddSequence("Nurses")
	second := st.AddSequence("Drivers")
	require.Equal(t, second, st.ActiveSequenceID())

	st.RemoveSequence(second)
	assert.Equal(t, first, st.ActiveSequenceID())

	st.RemoveSequence(first)
	assert.Empty(t, st.ActiveSequenceID())
	_, ok := st.ActiveSequence()
	assert.False(t, ok)
}

func TestRemoveSequenceKeepsUnrelatedActive(t *testing.T) {
	st := newTestStore(t)

	first := st.AddSequence("Nurses")
	second := st.AddSequence("Drivers")
	require.NoError(t, st.SetActiveSequence(first))

	st.RemoveSequence(second)
	assert.Equal(t, first, st.ActiveSequenceID())
}

func TestSetActiveSequenceUnknownID(t *testing.T) {
	st := newTestStore(t)
	st.AddSequence("Nurses")

	err := st.SetActiveSequence("nonexistent")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAddSequenceStepDefaults(t *testing.T) {
	st := newTestStore(t)
	id := st.AddSequence("Nurses")

	first, err := st.AddSequenceStep(id, domain.StepData{Body: "hello"})
	require.NoError(t, err)
	assert.Equal(t, domain.StepEmail, first.StepType)
	assert.Equal(t, 0, first.Order)
	assert.Equal(t, 0, first.Delay)

	second, err := st.AddSequenceStep(id, domain.StepData{Body: "follow up", StepType: domain.StepLinkedIn})
	require.NoError(t, err)
	// Append semantics: order defaults to the step count.
	assert.Equal(t, 1, second.Order)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestAddSequenceStepUnknownSequence(t *testing.T) {
	st := newTestStore(t)

	_, err := st.AddSequenceStep("nope", domain.StepData{Body: "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAddSequenceStepRejectsDuplicateID(t *testing.T) {
	st := newTestStore(t)
	id := st.AddSequence("Nurses")

	_, err := st.AddSequenceStep(id, domain.StepData{ID: "step-1", Body: "x"})
	require.NoError(t, err)

	_, err = st.AddSequenceStep(id, domain.StepData{ID: "step-1", Body: "y"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestUpdateSequenceStepRoundTrip(t *testing.T) {
	st := newTestStore(t)
	id := st.AddSequence("Nurses")

	step, err := st.AddSequenceStep(id, domain.StepData{
		StepType: domain.StepEmail,
		Subject:  "Opportunity",
		Body:     "x",
	})
	require.NoError(t, err)

	body := "y"
	require.NoError(t, st.UpdateSequenceStep(id, step.ID, domain.StepUpdate{Body: &body}))

	seq, ok := st.SequenceByID(id)
	require.True(t, ok)
	got := seq.FindStep(step.ID)
	require.NotNil(t, got)
	assert.Equal(t, "y", got.Body)
	// All other fields unchanged.
	assert.Equal(t, "Opportunity", got.Subject)
	assert.Equal(t, domain.StepEmail, got.StepType)
	assert.Equal(t, step.Delay, got.Delay)
	assert.Equal(t, step.Order, got.Order)
}

func TestUpdateSequenceStepUnknownIDsNoOp(t *testing.T) {
	st := newTestStore(t)
	id := st.AddSequence("Nurses")
	body := "y"

	assert.NoError(t, st.UpdateSequenceStep(id, "missing", domain.StepUpdate{Body: &body}))
	assert.NoError(t, st.UpdateSequenceStep("missing", "missing", domain.StepUpdate{Body: &body}))
}

func TestRemoveSequenceStep(t *testing.T) {
	st := newTestStore(t)
	id := st.AddSequence("Nurses")
	step, err := st.AddSequenceStep(id, domain.StepData{Body: "x"})
	require.NoError(t, err)

	st.RemoveSequenceStep(id, step.ID)
	seq, ok := st.SequenceByID(id)
	require.True(t, ok)
	assert.Empty(t, seq.Steps)

	// Unknown ids are a no-op.
	st.RemoveSequenceStep(id, "missing")
	st.RemoveSequenceStep("missing", step.ID)
}

func TestSetSessionID(t *testing.T) {
	st := newTestStore(t)

	st.SetSessionID("session-2")
	assert.Equal(t, "session-2", st.SessionID())

	// An empty id never replaces a valid one.
	st.SetSessionID("")
	assert.Equal(t, "session-2", st.SessionID())
}

func TestResetRestoresInitialState(t *testing.T) {
	st := newTestStore(t)
	st.AddMessage("hello", domain.SenderUser)
	st.AddSequence("Nurses")
	st.SetLoading(true)

	st.Reset("session-2")

	assert.Equal(t, "session-2", st.SessionID())
	assert.Empty(t, st.Sequences())
	assert.Empty(t, st.ActiveSequenceID())
	assert.False(t, st.Loading())

	msgs := st.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, welcome, msgs[0].Content)
}

func TestObserversNotifiedOnMutation(t *testing.T) {
	st := newTestStore(t)

	var calls int
	st.Subscribe(func() { calls++ })

	st.AddMessage("hello", domain.SenderUser)
	st.AddSequence("Nurses")
	st.SetLoading(true)

	assert.Equal(t, 3, calls)
}

func TestReadersGetCopies(t *testing.T) {
	st := newTestStore(t)
	id := st.AddSequence("Nurses")
	_, err := st.AddSequenceStep(id, domain.StepData{Body: "x"})
	require.NoError(t, err)

	seqs := st.Sequences()
	seqs[0].Steps[0].Body = "mutated"

	fresh, ok := st.SequenceByID(id)
	require.True(t, ok)
	assert.Equal(t, "x", fresh.Steps[0].Body)
}

func TestSnapshotExportsWorkspace(t *testing.T) {
	st := newTestStore(t)
	id := st.AddSequence("Nurses")
	_, err := st.AddSequenceStep(id, domain.StepData{Body: "x"})
	require.NoError(t, err)

	snap := st.Snapshot()
	assert.Equal(t, "session-1", snap.SessionID)
	require.Len(t, snap.Sequences, 1)
	assert.Len(t, snap.Sequences[0].Steps, 1)
	assert.Len(t, snap.Messages, 1)
}

func TestInvalidStepDataSurfacesInvalidArgument(t *testing.T) {
	st := newTestStore(t)
	id := st.AddSequence("Nurses")

	_, err := st.AddSequenceStep(id, domain.StepData{Body: "x", Delay: -1})
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
}
