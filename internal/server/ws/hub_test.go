package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/gavelhq/gavel/internal/bus"
	"github.com/gavelhq/gavel/internal/domain"
)

type stubStates struct{}

func (stubStates) ReadState(_ context.Context, auctionID string) (domain.AuctionState, error) {
	return domain.AuctionState{
		AuctionID: auctionID,
		Price:     decimal.NewFromInt(100),
		Status:    domain.AuctionStatusActive,
		EndTime:   time.Now().Add(time.Hour).UTC(),
	}, nil
}

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn
}

func TestHubJoinSendsSnapshot(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(bus.NewMemory(), stubStates{}, logger)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dialHub(t, srv)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(controlMsg{Action: "join_auction", AuctionID: "a1"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(msg), `"auction_state"`)
	require.Contains(t, string(msg), `"a1"`)
}

func TestHubShutdownReleasesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(bus.NewMemory(), stubStates{}, logger)
	runDone := make(chan error, 1)
	go func() { runDone <- hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dialHub(t, srv)
	defer conn.Close()
	require.NoError(t, conn.WriteJSON(controlMsg{Action: "join_auction", AuctionID: "a1"}))

	// Drain the join snapshot so shutdown races against an idle pump.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.NoError(t, err)

	cancel()

	select {
	case err := <-runDone:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop after cancel")
	}

	// The server side must close the connection; the client observes it as
	// a read error within the deadline instead of hanging.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	// New connections after shutdown are refused at registration rather
	// than parking a goroutine forever.
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	if late, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
		for {
			if _, _, err := late.ReadMessage(); err != nil {
				break
			}
		}
		late.Close()
	}
}
