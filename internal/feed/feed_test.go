package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"killtracker/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func readFixture(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile("testdata/redisq_package.json")
	require.NoError(t, err)
	return data
}

func fixturePackage(t *testing.T) *RedisQPackage {
	t.Helper()
	var resp RedisQResponse
	require.NoError(t, json.Unmarshal(readFixture(t), &resp))
	require.NotNil(t, resp.Package)
	return resp.Package
}

func TestKillmailFromPackage(t *testing.T) {
	km, err := KillmailFromPackage(fixturePackage(t))
	require.NoError(t, err)

	assert.Equal(t, int64(10000001), km.ID)
	assert.Equal(t, time.Date(2020, 1, 1, 1, 1, 1, 0, time.UTC), km.Time)
	assert.Equal(t, int64(30004984), *km.SolarSystemID)
	assert.Equal(t, int64(3011), *km.Victim.AllianceID)
	assert.Nil(t, km.Victim.FactionID)
	require.Len(t, km.Attackers, 3)
	assert.True(t, km.Attackers[0].IsFinalBlow)
	assert.Equal(t, -5.5, km.Attackers[1].SecurityStatus)
	assert.Nil(t, km.Attackers[2].AllianceID)
	assert.Equal(t, []int64{34562, 3756, 3756}, km.AttackersShipTypeIDs())

	require.NotNil(t, km.Zkb)
	assert.Equal(t, int64(50012306), *km.Zkb.LocationID)
	assert.Equal(t, 10000.0, km.Zkb.FittedValue)
	assert.Equal(t, int64(1), km.Zkb.Points)
	assert.Equal(t, "8a1d2f4c", km.Hash)
}

func TestKillmailFromPackage_RoundTrip(t *testing.T) {
	km, err := KillmailFromPackage(fixturePackage(t))
	require.NoError(t, err)

	data, err := km.AsJSON()
	require.NoError(t, err)
	got, err := models.KillmailFromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, km, got)

	m, err := km.AsMap()
	require.NoError(t, err)
	got, err = models.KillmailFromMap(m)
	require.NoError(t, err)
	assert.Equal(t, km, got)
}

func TestKillmailFromPackage_MissingSolarSystem(t *testing.T) {
	pkg := fixturePackage(t)
	var body map[string]any
	require.NoError(t, json.Unmarshal(pkg.Killmail, &body))
	delete(body, "solar_system_id")
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	pkg.Killmail = raw

	km, err := KillmailFromPackage(pkg)
	require.NoError(t, err)
	assert.Nil(t, km.SolarSystemID)
	assert.NotContains(t, km.EntityIDs(), int64(30004984))
}

func TestKillmailFromPackage_MissingBody(t *testing.T) {
	pkg := fixturePackage(t)
	pkg.Killmail = nil

	_, err := KillmailFromPackage(pkg)
	assert.ErrorIs(t, err, ErrMissingBody)
}

func TestKillmailFromLookup_IDMismatch(t *testing.T) {
	_, err := KillmailFromLookup(&ZkbLookupEntry{KillmailID: 1}, &ESIKillmail{KillmailID: 2})
	assert.Error(t, err)
}

func TestRedisQClient_FetchOne(t *testing.T) {
	fixture := readFixture(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "kt-test", r.URL.Query().Get("queueID"))
		assert.Equal(t, "1", r.URL.Query().Get("ttw"))
		assert.Equal(t, "killtracker-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		w.Write(fixture)
	}))
	defer server.Close()

	client := NewRedisQClient(server.URL, "kt-test", 1, 5*time.Second, "killtracker-test", nil, zap.NewNop())
	km, err := client.FetchOne(context.Background())
	require.NoError(t, err)
	require.NotNil(t, km)
	assert.Equal(t, int64(10000001), km.ID)
}

func TestRedisQClient_FetchOne_NoPackage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"package": null}`))
	}))
	defer server.Close()

	client := NewRedisQClient(server.URL, "", 0, 5*time.Second, "test", nil, zap.NewNop())
	km, err := client.FetchOne(context.Background())
	require.NoError(t, err)
	assert.Nil(t, km)
}

func TestRedisQClient_FetchOne_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewRedisQClient(server.URL, "", 0, 5*time.Second, "test", nil, zap.NewNop())
	_, err := client.FetchOne(context.Background())
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
}

type stubBodies struct {
	body  *ESIKillmail
	calls int
}

func (s *stubBodies) Killmail(ctx context.Context, id int64, hash string) (*ESIKillmail, error) {
	s.calls++
	return s.body, nil
}

func TestRedisQClient_FetchOne_BodyFromESI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"package": {"killID": 77, "zkb": {"hash": "abc", "totalValue": 5}}}`))
	}))
	defer server.Close()

	bodies := &stubBodies{body: &ESIKillmail{
		KillmailTime:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		SolarSystemID: models.Int64(30000142),
		Victim:        ESIVictim{ShipTypeID: models.Int64(587)},
	}}
	client := NewRedisQClient(server.URL, "", 0, 5*time.Second, "test", bodies, zap.NewNop())
	km, err := client.FetchOne(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, bodies.calls)
	assert.Equal(t, int64(77), km.ID)
	assert.Equal(t, 5.0, km.Zkb.TotalValue)
	assert.Nil(t, km.Attackers)
}

func TestLookupFetcher_FetchKillmail(t *testing.T) {
	fixture := fixturePackage(t)
	var body ESIKillmail
	require.NoError(t, json.Unmarshal(fixture.Killmail, &body))

	mux := http.NewServeMux()
	mux.HandleFunc("/api/killID/10000001/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]ZkbLookupEntry{{KillmailID: 10000001, Zkb: fixture.Zkb}})
	})
	mux.HandleFunc("/api/killID/5/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	})
	mux.HandleFunc("/esi/killmails/10000001/8a1d2f4c/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	zkb := NewZkbClient(server.URL+"/api", "test", 5*time.Second, zap.NewNop())
	esi := NewESIClient(server.URL+"/esi", "test", 5*time.Second, zap.NewNop())
	fetcher := NewLookupFetcher(zkb, esi, zap.NewNop())

	km, err := fetcher.FetchKillmail(context.Background(), 10000001)
	require.NoError(t, err)
	require.NotNil(t, km)

	want, err := KillmailFromPackage(fixture)
	require.NoError(t, err)
	assert.Equal(t, want, km)

	km, err = fetcher.FetchKillmail(context.Background(), 5)
	require.NoError(t, err)
	assert.Nil(t, km)
}

func TestESIClient_IsOnline(t *testing.T) {
	vip := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status/", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ESIStatus{Players: 20000, VIP: vip})
	}))
	defer server.Close()

	client := NewESIClient(server.URL, "test", 5*time.Second, zap.NewNop())
	online, err := client.IsOnline(context.Background())
	require.NoError(t, err)
	assert.True(t, online)

	vip = true
	online, err = client.IsOnline(context.Background())
	require.NoError(t, err)
	assert.False(t, online)
}

func TestESIClient_Names(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var ids []int64
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&ids))
		out := make([]ESIName, 0, len(ids))
		for _, id := range ids {
			out = append(out, ESIName{ID: id, Name: "name", Category: "character"})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}))
	defer server.Close()

	client := NewESIClient(server.URL, "test", 5*time.Second, zap.NewNop())
	names, err := client.Names(context.Background(), []int64{1001, 2001})
	require.NoError(t, err)
	assert.Equal(t, map[int64]string{1001: "name", 2001: "name"}, names)
}
