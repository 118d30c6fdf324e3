package integration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/probez"
)

// TestProvidersAreIndependent fires same-named probes with different
// signatures on two providers and toggles them separately.
func TestProvidersAreIndependent(t *testing.T) {
	session := NewTestSession(t)
	session.AttachAll()

	alpha := session.NewProvider("alpha")
	beta := session.NewProvider("beta")
	pa := MustProbe(t, alpha, "probe1", "int")
	pb := MustProbe(t, beta, "probe1", "char *")
	require.NoError(t, alpha.Enable())
	require.NoError(t, beta.Enable())

	require.NotEqual(t, alpha.Identity(), beta.Identity())

	require.NoError(t, pa.Fire(func() []probez.Value { return probez.Args(probez.Int(1)) }))
	require.NoError(t, pb.Fire(func() []probez.Value { return probez.Args(probez.Str("b")) }))

	require.NoError(t, beta.Disable())
	assert.True(t, pa.Enabled())
	assert.False(t, pb.Enabled())

	require.NoError(t, pa.Fire(func() []probez.Value { return probez.Args(probez.Int(2)) }))
	require.NoError(t, pb.Fire(func() []probez.Value { return probez.Args(probez.Str("late")) }))

	records := session.Export()
	assert.Equal(t, map[string]int{"alpha": 2, "beta": 1}, CountByProvider(records))
	for _, rec := range records {
		switch rec.Provider {
		case "alpha":
			assert.Equal(t, probez.KindSigned, rec.Slots[0].Type.Kind)
		case "beta":
			assert.Equal(t, "b", rec.Text(0))
		}
	}
}

func TestSelectiveAttachment(t *testing.T) {
	session := NewTestSession(t)

	web := session.NewProvider("web", probez.WithModule("frontend"))
	db := session.NewProvider("db")
	req := MustProbe(t, web, "req", "uint32")
	query := MustProbe(t, db, "query", "char *")
	commit := MustProbe(t, db, "commit")
	require.NoError(t, web.Enable())
	require.NoError(t, db.Enable())

	session.Attach("db", "query")
	assert.False(t, req.Enabled())
	assert.True(t, query.Enabled())
	assert.False(t, commit.Enabled())

	session.Attach(web.Identity().String(), probez.Wildcard)
	assert.True(t, req.Enabled())

	session.DetachAll()
	assert.False(t, req.Enabled())
	assert.False(t, query.Enabled())
}

func TestCloseOneProviderLeavesOthers(t *testing.T) {
	session := NewTestSession(t)
	session.AttachAll()

	keep := session.NewProvider("keep")
	drop := session.NewProvider("drop")
	kp := MustProbe(t, keep, "p", "int")
	dp := MustProbe(t, drop, "p", "int")
	require.NoError(t, keep.Enable())
	require.NoError(t, drop.Enable())

	require.NoError(t, drop.Close())
	assert.Equal(t, probez.StateDestroyed, drop.State())
	assert.False(t, dp.Enabled())
	assert.ErrorIs(t, drop.Enable(), probez.ErrDestroyed)

	providers, probes := session.Registered()
	assert.Equal(t, 1, providers)
	assert.Equal(t, 1, probes)

	require.NoError(t, kp.Fire(func() []probez.Value { return probez.Args(probez.Int(7)) }))
	rec := session.FindRecord("keep", "p")
	require.NotNil(t, rec)
	assert.Equal(t, int64(7), rec.Int(0))
}
