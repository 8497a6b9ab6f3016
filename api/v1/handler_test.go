package v1_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitealerts/internal/config"
	"sitealerts/internal/counters"
	"sitealerts/internal/stats"
	"sitealerts/internal/testsupport"
	"sitealerts/internal/tracking"
)

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

func todayKey() string {
	loc := config.GetConfig().Location()
	return stats.DateKey(time.Now(), loc)
}

func TestCollectPageview(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)
	store := counters.NewStore(db, testsupport.GetLogger())

	body := `{"path":"/blog/post","userAgent":"` + browserUA + `"}`
	req := httptest.NewRequest("POST", "/x/api/v1/pageviews", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	value, found, err := store.GetInt(counters.PageviewKey(todayKey()))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(1), value)
}

func TestCollectPageviewDisqualifiedStillAccepted(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)
	store := counters.NewStore(db, testsupport.GetLogger())

	body := `{"path":"/blog/post","userAgent":"curl/8.4.0"}`
	req := httptest.NewRequest("POST", "/x/api/v1/pageviews", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	_, found, err := store.GetInt(counters.PageviewKey(todayKey()))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCollectPageviewInvalidBody(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)

	req := httptest.NewRequest("POST", "/x/api/v1/pageviews", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestCollectNotFound(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)
	store := counters.NewStore(db, testsupport.GetLogger())

	for _, path := range []string{"/old-page", "/old-page", "/gone"} {
		req := httptest.NewRequest("POST", "/x/api/v1/notfound", strings.NewReader(`{"path":"`+path+`"}`))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	}

	total, found, err := store.GetInt(counters.NotFoundKey(todayKey()))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(3), total)

	payload, found, err := store.Get(counters.NotFoundMapKey(todayKey()))
	require.NoError(t, err)
	require.True(t, found)

	entries := tracking.DecodePathMap(payload)
	byPath := map[string]int64{}
	for _, entry := range entries {
		byPath[entry.Path] = entry.Count
	}
	assert.Equal(t, int64(2), byPath["/old-page"])
	assert.Equal(t, int64(1), byPath["/gone"])
}

func TestCollectNotFoundMissingPath(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)

	req := httptest.NewRequest("POST", "/x/api/v1/notfound", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
