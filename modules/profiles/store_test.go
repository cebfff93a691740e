package profiles

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDocument(t *testing.T) {
	profs, warnings, err := parseDocument([]byte(sampleDocument))
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, profs, 1)

	p := profs[0]
	assert.Equal(t, "grp_1", p.TargetID)
	assert.Equal(t, "weekly-dance", p.Key)
	assert.Equal(t, 120, p.DurationMinutes)
	assert.Equal(t, ModeBefore, p.Automation.Mode)
	assert.Equal(t, RepeatIndefinite, p.Automation.Repeat, "empty repeat defaults to indefinite")
	require.Len(t, p.Patterns, 1)
	assert.Equal(t, time.Friday, time.Weekday(p.Patterns[0].Weekday))
}

func TestParseDocumentDropsBadEntries(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		kept int
	}{
		{
			name: "duplicate target id",
			doc: `targets:
  - id: "grp_1"
    profiles: [{key: "a", automation: {mode: before}}]
  - id: "grp_1"
    profiles: [{key: "b", automation: {mode: before}}]
`,
			kept: 1,
		},
		{
			name: "duplicate profile key",
			doc: `targets:
  - id: "grp_1"
    profiles:
      - {key: "a", automation: {mode: before}}
      - {key: "a", automation: {mode: after}}
`,
			kept: 1,
		},
		{
			name: "unknown timezone",
			doc: `targets:
  - id: "grp_1"
    profiles:
      - {key: "a", timezone: "Mars/Olympus", automation: {mode: before}}
      - {key: "b", automation: {mode: before}}
`,
			kept: 1,
		},
		{
			name: "unknown mode",
			doc: `targets:
  - id: "grp_1"
    profiles:
      - {key: "a", automation: {mode: sometimes}}
`,
			kept: 0,
		},
		{
			name: "missing key",
			doc: `targets:
  - id: "grp_1"
    profiles:
      - {title: "no key"}
`,
			kept: 0,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			profs, warnings, err := parseDocument([]byte(tc.doc))
			require.NoError(t, err)
			assert.NotEmpty(t, warnings)
			assert.Len(t, profs, tc.kept)
		})
	}
}

func TestParseDocumentInvalidYAML(t *testing.T) {
	_, _, err := parseDocument([]byte("targets: ["))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDocumentParse)
}

func TestStoreLookupsReturnCopies(t *testing.T) {
	dir := t.TempDir()
	path := writeDocument(t, dir, sampleDocument)
	store := NewStore(path, &mockLogger{})
	require.NoError(t, store.Load())

	p, ok := store.Profile("grp_1", "weekly-dance")
	require.True(t, ok)
	p.Title = "mutated"
	p.Patterns[0].Hour = 3

	again, ok := store.Profile("grp_1", "weekly-dance")
	require.True(t, ok)
	assert.Equal(t, "Friday Night Dance", again.Title)
	assert.Equal(t, 19, again.Patterns[0].Hour)

	all := store.All()
	require.Len(t, all, 1)
	all[0].Key = "mutated"
	assert.Equal(t, []string{"grp_1"}, store.TargetIDs())
}

func TestStoreProfileMissing(t *testing.T) {
	store := NewStore("unused.yaml", &mockLogger{})
	_, ok := store.Profile("grp_x", "nope")
	assert.False(t, ok)
	assert.Empty(t, store.All())
	assert.Empty(t, store.TargetIDs())
}

func TestDiffProfiles(t *testing.T) {
	a := &Profile{TargetID: "grp_1", Key: "a", Title: "one"}
	b := &Profile{TargetID: "grp_1", Key: "b", Title: "two"}
	bChanged := &Profile{TargetID: "grp_1", Key: "b", Title: "two!"}
	c := &Profile{TargetID: "grp_2", Key: "c", Title: "three"}

	old := map[Ref]*Profile{a.Ref(): a, b.Ref(): b}
	current := map[Ref]*Profile{b.Ref(): bChanged, c.Ref(): c}

	change := diffProfiles(old, current)
	require.Len(t, change.Updated, 2)
	assert.Equal(t, "b", change.Updated[0].Key)
	assert.Equal(t, "c", change.Updated[1].Key)
	require.Len(t, change.Removed, 1)
	assert.Equal(t, Ref{TargetID: "grp_1", Key: "a"}, change.Removed[0])
}

func TestDiffProfilesNoChange(t *testing.T) {
	a := &Profile{TargetID: "grp_1", Key: "a", Title: "one"}
	same := &Profile{TargetID: "grp_1", Key: "a", Title: "one"}
	change := diffProfiles(map[Ref]*Profile{a.Ref(): a}, map[Ref]*Profile{same.Ref(): same})
	assert.Empty(t, change.Updated)
	assert.Empty(t, change.Removed)
}

func TestStoreWatchNotifiesOnEdit(t *testing.T) {
	dir := t.TempDir()
	path := writeDocument(t, dir, sampleDocument)
	store := NewStore(path, &mockLogger{})
	require.NoError(t, store.Load())

	changes := make(chan ProfilesChange, 1)
	store.Subscribe(func(change ProfilesChange) {
		select {
		case changes <- change:
		default:
		}
	})

	require.NoError(t, store.Watch())
	defer store.Close()

	edited := sampleDocument + `      - key: "second"
        title: "Second Profile"
        automation:
          enabled: false
          mode: before
`
	require.NoError(t, os.WriteFile(path, []byte(edited), 0o600))

	select {
	case change := <-changes:
		require.Len(t, change.Updated, 1)
		assert.Equal(t, "second", change.Updated[0].Key)
		assert.Empty(t, change.Removed)
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification after document edit")
	}

	p, ok := store.Profile("grp_1", "second")
	require.True(t, ok)
	assert.Equal(t, "Second Profile", p.Title)
}

func TestStoreWatchReportsRemovals(t *testing.T) {
	dir := t.TempDir()
	path := writeDocument(t, dir, sampleDocument)
	store := NewStore(path, &mockLogger{})
	require.NoError(t, store.Load())

	changes := make(chan ProfilesChange, 1)
	store.Subscribe(func(change ProfilesChange) {
		select {
		case changes <- change:
		default:
		}
	})
	require.NoError(t, store.Watch())
	defer store.Close()

	require.NoError(t, os.WriteFile(path, []byte("targets: []\n"), 0o600))

	select {
	case change := <-changes:
		assert.Empty(t, change.Updated)
		require.Len(t, change.Removed, 1)
		assert.Equal(t, Ref{TargetID: "grp_1", Key: "weekly-dance"}, change.Removed[0])
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification after document edit")
	}
}
