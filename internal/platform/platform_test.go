package platform

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarlinkco/aiplatform/internal/catalog"
	"github.com/stellarlinkco/aiplatform/internal/store"
)

type fakeCatalog struct {
	system *catalog.SystemConfig
	tools  []json.RawMessage
}

func (f *fakeCatalog) System() *catalog.SystemConfig { return f.system }
func (f *fakeCatalog) Tools() []json.RawMessage      { return f.tools }

func newFakeCatalog(t *testing.T, doc string, tools ...string) *fakeCatalog {
	t.Helper()
	sys, err := catalog.ParseSystemConfig([]byte(doc), ".json")
	require.NoError(t, err)
	fc := &fakeCatalog{system: sys}
	for _, tool := range tools {
		fc.tools = append(fc.tools, json.RawMessage(tool))
	}
	return fc
}

const testSystemConfig = `{
	"platform": {"name": "Test Platform", "version": "0.1.0"},
	"core_capabilities": {
		"memory_system": {"enabled": true},
		"security": {"enabled": false},
		"voice": {"enabled": true}
	},
	"operating_modes": {"production": {"verbose_errors": false}},
	"performance": {"response_time": "fast"}
}`

type fixture struct {
	p       *Platform
	backend store.Backend
	clock   *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend := store.NewInMem()
	clock := &fakeClock{now: time.Date(2026, 3, 4, 5, 6, 7, 890_000_000, time.UTC)}
	p := NewWithOptions(backend.Memory(), backend.Plans(), newFakeCatalog(t, testSystemConfig, `{"type":"function","function":{"name":"x"}}`), Options{Now: clock.Now})
	return &fixture{p: p, backend: backend, clock: clock}
}

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func TestStoreMemory_DistinctKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	values := map[string]string{
		"a": `"1"`,
		"b": `42`,
		"c": `{"nested":{"list":[1,"two",null,false]}}`,
		"d": `[1,2,3]`,
		"e": `false`,
		"f": `0`,
		"g": `""`,
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		res, err := f.p.StoreMemory(ctx, StoreMemoryInput{Key: raw(strconv.Quote(k)), Value: raw(values[k])})
		require.NoError(t, err)
		assert.Equal(t, &StoreMemoryResult{Success: true, Message: "Memory stored successfully"}, res)
	}

	list, err := f.p.GetMemory(ctx)
	require.NoError(t, err)
	require.Equal(t, len(values), list.Count)
	require.Len(t, list.Memories, len(values))
	for i, pair := range list.Memories {
		assert.Equal(t, keys[i], pair.Key)
		assert.JSONEq(t, values[pair.Key], string(pair.Entry.Content))
	}
}

func TestStoreMemory_Overwrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.p.StoreMemory(ctx, StoreMemoryInput{Key: raw(`"k"`), Value: raw(`"v1"`)})
	require.NoError(t, err)
	first, err := f.p.GetMemory(ctx)
	require.NoError(t, err)

	f.clock.Advance(1500 * time.Millisecond)
	_, err = f.p.StoreMemory(ctx, StoreMemoryInput{Key: raw(`"k"`), Value: raw(`"v2"`)})
	require.NoError(t, err)

	list, err := f.p.GetMemory(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, list.Count)
	entry := list.Memories[0].Entry
	assert.Equal(t, `"v2"`, string(entry.Content))
	assert.Equal(t, first.Memories[0].Entry.CreatedAt, entry.CreatedAt)
	assert.Equal(t, "2026-03-04T05:06:07.890Z", entry.CreatedAt)
	assert.Equal(t, "2026-03-04T05:06:09.390Z", entry.LastAccessed)
}

func TestStoreMemory_Validation(t *testing.T) {
	tests := []struct {
		name  string
		key   json.RawMessage
		value json.RawMessage
	}{
		{"empty", nil, nil},
		{"missing key", nil, raw(`"v"`)},
		{"missing value", raw(`"k"`), nil},
		{"null key", raw(`null`), raw(`"v"`)},
		{"null value", raw(`"k"`), raw(`null`)},
		{"empty key", raw(`""`), raw(`"v"`)},
		{"object key", raw(`{"a":1}`), raw(`"v"`)},
		{"array key", raw(`["a"]`), raw(`"v"`)},
		{"invalid value", raw(`"k"`), raw(`{bad`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			res, err := f.p.StoreMemory(ctx, StoreMemoryInput{Key: tt.key, Value: tt.value})
			assert.Nil(t, res)
			require.Error(t, err)
			assert.True(t, IsValidation(err))
			assert.Equal(t, "Key and value are required", err.Error())

			n, err := f.backend.Memory().Len(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestStoreMemory_ScalarKeysCoerced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, k := range []string{`7`, `true`, `1.5`} {
		_, err := f.p.StoreMemory(ctx, StoreMemoryInput{Key: raw(k), Value: raw(`1`)})
		require.NoError(t, err)
	}
	list, err := f.p.GetMemory(ctx)
	require.NoError(t, err)

	var keys []string
	for _, m := range list.Memories {
		keys = append(keys, m.Key)
	}
	assert.Equal(t, []string{"7", "true", "1.5"}, keys)
}

func TestMemoryList_JSONShape(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.p.StoreMemory(ctx, StoreMemoryInput{Key: raw(`"a"`), Value: raw(`"1"`)})
	require.NoError(t, err)
	list, err := f.p.GetMemory(ctx)
	require.NoError(t, err)

	data, err := json.Marshal(list)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"memories": [["a", {"content": "1", "created_at": "2026-03-04T05:06:07.890Z", "last_accessed": "2026-03-04T05:06:07.890Z"}]],
		"count": 1,
		"description": "Stored memories for context and learning"
	}`, string(data))

	var decoded MemoryList
	require.NoError(t, json.Unmarshal(data, &decoded))
	if diff := cmp.Diff(list, &decoded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestGetMemory_EmptyIsArray(t *testing.T) {
	f := newFixture(t)
	list, err := f.p.GetMemory(context.Background())
	require.NoError(t, err)

	data, err := json.Marshal(list)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"memories":[]`)
}

var planIDPattern = regexp.MustCompile(`^plan_\d+$`)

func TestCreatePlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.p.CreatePlan(ctx, CreatePlanInput{TaskDescription: raw(`"T"`)})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Plan created successfully", res.Message)
	assert.Regexp(t, planIDPattern, res.PlanID)

	list, err := f.p.GetPlans(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, list.Count)

	data, err := json.Marshal(list)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"plans": [["`+res.PlanID+`", {"task_description": "T", "steps": [], "created_at": "2026-03-04T05:06:07.890Z", "status": "created"}]],
		"count": 1,
		"description": "Active execution plans"
	}`, string(data))
}

func TestCreatePlan_StepsVerbatim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	steps := `["one", 2, {"three": [3]}, null]`
	_, err := f.p.CreatePlan(ctx, CreatePlanInput{TaskDescription: raw(`"T"`), Steps: raw(steps)})
	require.NoError(t, err)
	_, err = f.p.CreatePlan(ctx, CreatePlanInput{TaskDescription: raw(`"  "`), Steps: raw(`null`)})
	require.NoError(t, err)

	list, err := f.p.GetPlans(ctx)
	require.NoError(t, err)
	require.Len(t, list.Plans, 2)
	assert.JSONEq(t, steps, string(list.Plans[0].Plan.Steps))
	assert.Equal(t, `[]`, string(list.Plans[1].Plan.Steps))
	assert.Equal(t, "  ", list.Plans[1].Plan.TaskDescription)
}

func TestCreatePlan_Validation(t *testing.T) {
	for name, task := range map[string]json.RawMessage{
		"missing": nil,
		"null":    raw(`null`),
		"empty":   raw(`""`),
		"number":  raw(`5`),
		"object":  raw(`{}`),
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			_, err := f.p.CreatePlan(ctx, CreatePlanInput{TaskDescription: task, Steps: raw(`["x"]`)})
			require.Error(t, err)
			assert.True(t, IsValidation(err))
			assert.Equal(t, "Task description is required", err.Error())

			n, err := f.backend.Plans().Len(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)
			assert.Zero(t, f.p.lastPlanID.Load(), "no id should be generated")
		})
	}
}

func TestCreatePlan_IDsIncreaseWithFrozenClock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var prev int64
	for i := 0; i < 5; i++ {
		res, err := f.p.CreatePlan(ctx, CreatePlanInput{TaskDescription: raw(`"T"`)})
		require.NoError(t, err)
		n, err := strconv.ParseInt(strings.TrimPrefix(res.PlanID, "plan_"), 10, 64)
		require.NoError(t, err)
		assert.Greater(t, n, prev)
		prev = n
	}
	assert.Equal(t, f.clock.Now().UnixMilli()*1000+4, prev)
}

func TestCreatePlan_ConcurrentUnique(t *testing.T) {
	for name, open := range map[string]func() (store.Backend, error){
		"inmem":  func() (store.Backend, error) { return store.NewInMem(), nil },
		"sqlite": func() (store.Backend, error) { return store.NewSQLite("") },
	} {
		t.Run(name, func(t *testing.T) {
			backend, err := open()
			require.NoError(t, err)
			defer backend.Close()

			p := New(backend.Memory(), backend.Plans(), newFakeCatalog(t, `{}`))
			ctx := context.Background()

			const n = 200
			ids := make(chan string, n)
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					res, err := p.CreatePlan(ctx, CreatePlanInput{TaskDescription: raw(`"T"`)})
					if assert.NoError(t, err) {
						ids <- res.PlanID
					}
				}()
			}
			wg.Wait()
			close(ids)

			seen := make(map[string]bool)
			for id := range ids {
				assert.False(t, seen[id], "duplicate id %s", id)
				seen[id] = true
			}
			assert.Len(t, seen, n)

			count, err := backend.Plans().Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, n, count)
		})
	}
}

func TestStoresIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.p.StoreMemory(ctx, StoreMemoryInput{Key: raw(`"k"`), Value: raw(`1`)})
	require.NoError(t, err)
	_, err = f.p.CreatePlan(ctx, CreatePlanInput{TaskDescription: raw(`"T"`)})
	require.NoError(t, err)

	require.NoError(t, f.backend.Memory().Clear(ctx))
	plans, err := f.p.GetPlans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, plans.Count)

	require.NoError(t, f.backend.Plans().Clear(ctx))
	_, err = f.p.StoreMemory(ctx, StoreMemoryInput{Key: raw(`"k2"`), Value: raw(`2`)})
	require.NoError(t, err)
	mem, err := f.p.GetMemory(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, mem.Count)
	plans, err = f.p.GetPlans(ctx)
	require.NoError(t, err)
	assert.Zero(t, plans.Count)
}

func TestGetHealth(t *testing.T) {
	f := newFixture(t)
	f.clock.Advance(2500 * time.Millisecond)

	h := f.p.GetHealth()
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, "Test Platform", h.Platform)
	assert.Equal(t, "0.1.0", h.Version)
	assert.Equal(t, "2026-03-04T05:06:10.390Z", h.Timestamp)
	assert.InDelta(t, 2.5, h.Uptime, 0.001)
	assert.False(t, h.Initialized)
	assert.NotZero(t, h.Memory.HeapUsed)
	assert.GreaterOrEqual(t, h.Memory.Sys, h.Memory.HeapTotal)

	data, err := json.Marshal(h.Memory)
	require.NoError(t, err)
	var mem map[string]any
	require.NoError(t, json.Unmarshal(data, &mem))
	assert.Contains(t, mem, "sys")
	assert.NotContains(t, mem, "rss")
	assert.Equal(t, map[string]bool{
		"multi_modal":     false,
		"memory_system":   true,
		"tool_system":     false,
		"planning_system": false,
		"security":        false,
		"voice":           true,
	}, h.Features)

	f.p.MarkInitialized()
	assert.True(t, f.p.GetHealth().Initialized)
}

func TestGetCapabilities(t *testing.T) {
	f := newFixture(t)
	data, err := json.Marshal(f.p.GetCapabilities())
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, map[string]any{"name": "Test Platform", "version": "0.1.0"}, got["platform"])
	assert.Equal(t, map[string]any{"response_time": "fast"}, got["performance"])
	assert.Contains(t, got, "core_capabilities")
	assert.Contains(t, got, "operating_modes")
	assert.NotEmpty(t, got["description"])
}

func TestGetCapabilities_MissingSections(t *testing.T) {
	backend := store.NewInMem()
	p := New(backend.Memory(), backend.Plans(), newFakeCatalog(t, `{}`))
	data, err := json.Marshal(p.GetCapabilities())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"performance":null`)
	assert.Contains(t, string(data), `"platform":null`)
}

func TestGetTools(t *testing.T) {
	f := newFixture(t)
	tools := f.p.GetTools()
	assert.Equal(t, 1, tools.Count)
	assert.Equal(t, `{"type":"function","function":{"name":"x"}}`, string(tools.Tools[0]))

	backend := store.NewInMem()
	empty := New(backend.Memory(), backend.Plans(), newFakeCatalog(t, `{}`)).GetTools()
	data, err := json.Marshal(empty)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"tools":[]`)
	assert.Contains(t, string(data), `"count":0`)
}

func TestGetDemo(t *testing.T) {
	f := newFixture(t)
	demo := f.p.GetDemo()
	assert.NotEmpty(t, demo.Message)
	assert.NotEmpty(t, demo.Features)
	assert.NotEmpty(t, demo.SystemsCombined)
	assert.Equal(t, "ready", demo.Status)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.p.StoreMemory(ctx, StoreMemoryInput{Key: raw(`"k"`), Value: raw(`1`)})
	require.NoError(t, err)

	stats, err := f.p.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Memories: 1, Plans: 0, Tools: 1}, stats)
}
