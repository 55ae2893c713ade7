package ozon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAuth = Auth{ClientID: "123", APIKey: "key-abcdefghij"}

func TestPing_SendsAuthHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/description-category/tree", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "123", r.Header.Get("Client-Id"))
		assert.Equal(t, "key-abcdefghij", r.Header.Get("Api-Key"))
		_, _ = w.Write([]byte(`{"result":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 0)
	require.NoError(t, c.Ping(context.Background(), testAuth))
}

func TestPost_APIErrorCarriesStatusAndMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":7,"message":"Api-key is deactivated"}`))
	}))
	defer srv.Close()

	err := NewClient(srv.URL, time.Second, 0).Ping(context.Background(), testAuth)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "Api-key is deactivated", apiErr.Message)
}

func TestPost_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	err := NewClient(srv.URL, 50*time.Millisecond, 0).Ping(context.Background(), testAuth)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestPost_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := NewClient(url, time.Second, 0).Ping(context.Background(), testAuth)
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestListProducts_FollowsLastID(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			LastID string `json:"last_id"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		calls++
		if req.LastID == "" {
			_, _ = w.Write([]byte(`{"result":{"items":[{"product_id":1,"offer_id":"A"}],"total":2,"last_id":"p2"}}`))
			return
		}
		assert.Equal(t, "p2", req.LastID)
		_, _ = w.Write([]byte(`{"result":{"items":[{"product_id":2,"offer_id":"B"}],"total":2,"last_id":""}}`))
	}))
	defer srv.Close()

	items, err := NewClient(srv.URL, time.Second, 0).ListProducts(context.Background(), testAuth, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []ProductRef{{ProductID: 1, OfferID: "A"}, {ProductID: 2, OfferID: "B"}}, items)
}

func TestSalesBySKU_ParsesDimensions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/analytics/data", r.URL.Path)
		_, _ = w.Write([]byte(`{"result":{"data":[
			{"dimensions":[{"id":"555","name":"Кружка"}],"metrics":[12000.5,8]},
			{"dimensions":[{"id":"12ab","name":"Мусор"}],"metrics":[1,1]},
			{"dimensions":[{"id":"99999999999999999999","name":"Переполнение"}],"metrics":[1,1]},
			{"dimensions":[],"metrics":[1,1]}
		]}}`))
	}))
	defer srv.Close()

	rows, err := NewClient(srv.URL, time.Second, 0).SalesBySKU(context.Background(), testAuth, time.Now().AddDate(0, 0, -7), time.Now())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(555), rows[0].SKU)
	assert.Equal(t, "Кружка", rows[0].Name)
	assert.Equal(t, 12000.5, rows[0].Revenue)
	assert.Equal(t, int64(8), rows[0].Units)
}

func TestPost_PlainErrorBodyIsCutOnRuneBoundary(t *testing.T) {
	body := strings.Repeat("ошибка ", 60)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	err := NewClient(srv.URL, time.Second, 0).Ping(context.Background(), testAuth)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, utf8.ValidString(apiErr.Message))
	assert.Equal(t, 200, utf8.RuneCountInString(apiErr.Message))
}
