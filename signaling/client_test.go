package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/require"
)

func TestCreateRequestPostsAndDecodesResult(t *testing.T) {
	wantID, err := uuid.NewV4()
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/requests", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "peer-pin", body["peer_pin"])
		require.Equal(t, string(TransportDatachannel), body["preferred"])

		json.NewEncoder(w).Encode(CreateRequestResult{RequestID: wantID})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	target, _ := uuid.NewV4()
	res, err := c.CreateRequest(context.Background(), target, true, "peer-pin", TransportDatachannel)
	require.NoError(t, err)
	require.Equal(t, wantID, res.RequestID)
}

func TestDoReturnsErrorOnNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	err := c.DiscardRequest(context.Background(), uuid.Must(uuid.NewV4()))
	require.Error(t, err)
}

func TestQueryPeersDecodesList(t *testing.T) {
	a, _ := uuid.NewV4()
	b, _ := uuid.NewV4()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/peers", r.URL.Path)
		json.NewEncoder(w).Encode([]Peer{{ID: a}, {ID: b}})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	peers, err := c.QueryPeers(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []uuid.UUID{a, b}, []uuid.UUID{peers[0].ID, peers[1].ID})
}

func TestPostSignalingEncodesTagAndPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, float64(TagICE), body["tag"])
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	requestID, _ := uuid.NewV4()
	clientID, _ := uuid.NewV4()
	err := c.PostSignaling(context.Background(), requestID, clientID, TagICE, json.RawMessage(`{"candidate":"x"}`))
	require.NoError(t, err)
}

func TestAcceptRequestURLIncludesRequestID(t *testing.T) {
	requestID, _ := uuid.NewV4()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, fmt.Sprintf("/requests/%s/accept", requestID), r.URL.Path)
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	clientID, _ := uuid.NewV4()
	require.NoError(t, c.AcceptRequest(context.Background(), requestID, clientID, true))
}
