package policy

import (
	"fmt"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.UpstreamBaseURL)
	assert.Equal(t, ModeForce, cfg.CredentialReplaceMode)
	assert.Equal(t, ModeForce, cfg.ModelReplaceMode)
	assert.True(t, cfg.AutoReplaceCredential)
	assert.True(t, cfg.AutoReplaceModel)
	assert.False(t, cfg.HasCredential())
	assert.False(t, cfg.HasDefaultModel())
}

func TestParseReplaceMode(t *testing.T) {
	m, err := ParseReplaceMode("FORCE")
	require.NoError(t, err)
	assert.Equal(t, ModeForce, m)

	m, err = ParseReplaceMode(" fill_if_missing ")
	require.NoError(t, err)
	assert.Equal(t, ModeFillIfMissing, m)

	_, err = ParseReplaceMode("sometimes")
	assert.Error(t, err)
}

func TestStore_ApplyPartial(t *testing.T) {
	s := NewStore(DefaultConfig())

	got := s.Apply(Update{DefaultModel: StringPtr("openai/gpt-4o")})
	assert.Equal(t, "openai/gpt-4o", got.DefaultModel)
	assert.Equal(t, DefaultUpstreamBaseURL, got.UpstreamBaseURL)
	assert.True(t, got.AutoReplaceModel)

	got = s.Apply(Update{
		Credential:       StringPtr("sk-test"),
		ModelReplaceMode: ModePtr(ModeFillIfMissing),
		AutoReplaceModel: BoolPtr(false),
	})
	assert.Equal(t, "openai/gpt-4o", got.DefaultModel)
	assert.Equal(t, "sk-test", got.Credential)
	assert.Equal(t, ModeFillIfMissing, got.ModelReplaceMode)
	assert.False(t, got.AutoReplaceModel)
	assert.Equal(t, got, s.Snapshot())
}

func TestStore_SnapshotIsCopy(t *testing.T) {
	s := NewStore(DefaultConfig())
	snap := s.Snapshot()
	snap.UpstreamBaseURL = "http://changed"
	assert.Equal(t, DefaultUpstreamBaseURL, s.Snapshot().UpstreamBaseURL)
}

func TestStore_OnChange(t *testing.T) {
	s := NewStore(DefaultConfig())
	var seen []Config
	s.OnChange(func(c Config) {
		// the hook runs outside the lock, so reading the store must not deadlock
		_ = s.Snapshot()
		seen = append(seen, c)
	})
	s.OnChange(nil)

	s.Apply(Update{DefaultModel: StringPtr("m1")})
	s.Apply(Update{})

	require.Len(t, seen, 2)
	assert.Equal(t, "m1", seen[0].DefaultModel)
	assert.Equal(t, "m1", seen[1].DefaultModel)
}

func TestStore_ConcurrentApplyNoTornReads(t *testing.T) {
	s := NewStore(DefaultConfig())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			v := fmt.Sprintf("v%d", i)
			// both fields always carry the same value
			s.Apply(Update{Credential: StringPtr(v), DefaultModel: StringPtr(v)})
		}(i)
		go func() {
			defer wg.Done()
			snap := s.Snapshot()
			assert.Equal(t, snap.Credential, snap.DefaultModel)
		}()
	}
	wg.Wait()
}

func TestStore_ConcurrentApplyPersistsLatest(t *testing.T) {
	for round := 0; round < 100; round++ {
		s := NewStore(DefaultConfig())
		var (
			mu        sync.Mutex
			persisted Config
		)
		s.OnChange(func(c Config) {
			// widen the window between snapshot and write
			runtime.Gosched()
			mu.Lock()
			persisted = c
			mu.Unlock()
		})

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				s.Apply(Update{DefaultModel: StringPtr(fmt.Sprintf("model-%d", i))})
			}(i)
		}
		wg.Wait()

		mu.Lock()
		got := persisted
		mu.Unlock()
		require.Equal(t, s.Snapshot(), got, "round %d", round)
	}
}

func TestUpdate_ValidateAndIsEmpty(t *testing.T) {
	assert.True(t, Update{}.IsEmpty())
	assert.False(t, Update{AutoReplaceModel: BoolPtr(false)}.IsEmpty())

	assert.NoError(t, Update{ModelReplaceMode: ModePtr(ModeFillIfMissing)}.Validate())
	assert.Error(t, Update{ModelReplaceMode: ModePtr("bad")}.Validate())
	assert.Error(t, Update{CredentialReplaceMode: ModePtr("")}.Validate())
}

func TestConfig_MaskedAndLogObject(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Credential = "sk-or-v1-0123456789abcdef"

	masked := cfg.Masked()
	assert.Equal(t, "sk-o****cdef", masked.Credential)
	assert.Equal(t, "sk-or-v1-0123456789abcdef", cfg.Credential)

	core, logs := observer.New(zapcore.InfoLevel)
	zap.New(core).Info("policy", zap.Object("policy", cfg))
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()["policy"].(map[string]interface{})
	assert.Equal(t, "sk-or-v1...cdef", fields["credential"])
	assert.NotContains(t, fmt.Sprint(fields), "0123456789")
}
