package game

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHTTPServer(t *testing.T, relPaths ...string) (*httptest.Server, *RoomService) {
	t.Helper()

	svc := newTestService(t, Config{AdvanceDelay: time.Second, ReapDelay: time.Second}, relPaths...)
	server := NewServer(svc, svc.catalog, svc.resolver, nil)

	mux := http.NewServeMux()
	server.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, svc
}

func doJSON(t *testing.T, method, url string, body string) (int, map[string]any) {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestServer_CreateRoom(t *testing.T) {
	ts, _ := newTestHTTPServer(t, "v1/ayumu.png", "v2/shioriko.png")

	code, body := doJSON(t, http.MethodPost, ts.URL+"/api/rooms", `{"version":"v2"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["roomId"], 6)
	assert.Equal(t, "v2", body["selectedVersion"])
	assert.Equal(t, float64(TotalRounds), body["totalRounds"])

	// empty body means no preference
	code, body = doJSON(t, http.MethodPost, ts.URL+"/api/rooms", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "v1", body["selectedVersion"])
}

func TestServer_CreateRoomNoVersions(t *testing.T) {
	ts, _ := newTestHTTPServer(t) // empty image root

	code, body := doJSON(t, http.MethodPost, ts.URL+"/api/rooms", "")
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "no image versions found", body["error"])
}

func TestServer_JoinFlow(t *testing.T) {
	ts, _ := newTestHTTPServer(t, "v1/ayumu.png")

	code, body := doJSON(t, http.MethodPost, ts.URL+"/api/rooms", "")
	require.Equal(t, http.StatusOK, code)
	roomID := body["roomId"].(string)

	// server mints the player id when the client has none
	code, body = doJSON(t, http.MethodPost, ts.URL+"/api/rooms/"+roomID+"/join", `{"name":"Alice"}`)
	require.Equal(t, http.StatusOK, code)
	player := body["player"].(map[string]any)
	assert.NotEmpty(t, player["id"])
	assert.Equal(t, "Alice", player["name"])

	code, _ = doJSON(t, http.MethodPost, ts.URL+"/api/rooms/"+roomID+"/join", `{"name":"Bob","playerId":"u2"}`)
	require.Equal(t, http.StatusOK, code)

	// joining again with the same id is idempotent
	code, _ = doJSON(t, http.MethodPost, ts.URL+"/api/rooms/"+roomID+"/join", `{"name":"Bob","playerId":"u2"}`)
	require.Equal(t, http.StatusOK, code)

	code, body = doJSON(t, http.MethodPost, ts.URL+"/api/rooms/"+roomID+"/join", `{"name":"Charlie"}`)
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "room is full (2 players only)", body["error"])
}

func TestServer_RoomActionErrors(t *testing.T) {
	ts, _ := newTestHTTPServer(t, "v1/ayumu.png")

	code, body := doJSON(t, http.MethodPost, ts.URL+"/api/rooms/NOSUCH/join", `{}`)
	require.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "room not found", body["error"])

	resp, err := http.Get(ts.URL + "/api/rooms/NOSUCH/join")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_ReadyIsIdempotent(t *testing.T) {
	ts, _ := newTestHTTPServer(t, "v1/ayumu.png")

	_, body := doJSON(t, http.MethodPost, ts.URL+"/api/rooms", "")
	roomID := body["roomId"].(string)

	for i := 0; i < 3; i++ {
		code, state := doJSON(t, http.MethodPost, ts.URL+"/api/rooms/"+roomID+"/ready", "")
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, false, state["started"], "ready alone must not start the game")
	}

	code, state := doJSON(t, http.MethodPost, ts.URL+"/api/rooms/"+roomID+"/cancelReady", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, state["started"])
}

func TestServer_SessionEndpoints(t *testing.T) {
	ts, svc := newTestHTTPServer(t, "v1/ayumu.png", "v1/setsuna.png")

	room, err := svc.Create("")
	require.NoError(t, err)
	_, err = room.Join("u1", "Alice")
	require.NoError(t, err)

	t.Run("guess is permanently disabled", func(t *testing.T) {
		code, body := doJSON(t, http.MethodPost, ts.URL+"/api/session/"+room.ID()+"/guess", `{"guess":"x"}`)
		require.Equal(t, http.StatusGone, code)
		assert.Equal(t, "guess phase disabled in current game mode", body["error"])

		// only POST was ever registered for guess
		resp, err := http.Get(ts.URL + "/api/session/" + room.ID() + "/guess")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("public state", func(t *testing.T) {
		code, body := doJSON(t, http.MethodGet, ts.URL+"/api/session/"+room.ID()+"/state", "")
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, room.ID(), body["id"])
		assert.Equal(t, float64(TotalRounds), body["totalRounds"])
		assert.NotContains(t, body, "myAssignment")
	})

	t.Run("player state carries the assignment field", func(t *testing.T) {
		code, body := doJSON(t, http.MethodGet, ts.URL+"/api/session/"+room.ID()+"/state?playerId=u1", "")
		require.Equal(t, http.StatusOK, code)
		assert.Contains(t, body, "myAssignment")
	})

	t.Run("unknown session", func(t *testing.T) {
		code, body := doJSON(t, http.MethodGet, ts.URL+"/api/session/NOSUCH/state", "")
		require.Equal(t, http.StatusNotFound, code)
		assert.Equal(t, "room not found", body["error"])
	})

	t.Run("cards resolve image urls against the request", func(t *testing.T) {
		code, body := doJSON(t, http.MethodGet, ts.URL+"/api/session/"+room.ID()+"/cards", "")
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "v1", body["selectedVersion"])

		cards := body["cards"].([]any)
		require.Len(t, cards, 2)
		first := cards[0].(map[string]any)
		assert.Equal(t, "v1::ayumu", first["id"])
		url := first["imageUrl"].(string)
		assert.True(t, strings.HasPrefix(url, "http://"), "got %q", url)
		assert.True(t, strings.HasSuffix(url, "/images/v1/ayumu.png"), "got %q", url)
	})

	t.Run("history starts empty", func(t *testing.T) {
		code, body := doJSON(t, http.MethodGet, ts.URL+"/api/session/"+room.ID()+"/history", "")
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "memory", body["source"])
		assert.Empty(t, body["history"])
	})
}

func TestServer_Versions(t *testing.T) {
	ts, _ := newTestHTTPServer(t, "v1/ayumu.png", "v2/shioriko.png")

	code, body := doJSON(t, http.MethodGet, ts.URL+"/api/versions", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"v1", "v2"}, body["versions"])
}

func TestServer_Characters(t *testing.T) {
	ts, _ := newTestHTTPServer(t, "v1/ayumu.png")

	code, body := doJSON(t, http.MethodGet, ts.URL+"/api/characters/v1::ayumu", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "v1::ayumu", body["id"])
	assert.Equal(t, "v1::ayumu", body["name"])

	resp, err := http.Get(ts.URL + "/api/characters?ids=a,%20b,,c")
	require.NoError(t, err)
	defer resp.Body.Close()
	var list []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 3)
	assert.Equal(t, "a", list[0]["id"])
	assert.Equal(t, "b", list[1]["id"])
	assert.Equal(t, "c", list[2]["id"])
}

func TestWS_Endpoint(t *testing.T) {
	ts, svc := newTestHTTPServer(t, "v1/ayumu.png")

	room, err := svc.Create("")
	require.NoError(t, err)

	mkWSURL := func(query string) string {
		return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?" + query
	}

	t.Run("missing params", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(mkWSURL("roomId="+room.ID()), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown room", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(mkWSURL("roomId=NOSUCH&playerId=u1"), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("two players play a round", func(t *testing.T) {
		ws1, _, err := websocket.DefaultDialer.Dial(mkWSURL("roomId="+room.ID()+"&playerId=u1&name=Alice"), nil)
		require.NoError(t, err)
		defer ws1.Close()

		ws2, _, err := websocket.DefaultDialer.Dial(mkWSURL("roomId="+room.ID()+"&playerId=u2&name=Bob"), nil)
		require.NoError(t, err)
		defer ws2.Close()

		waitFor := func(ws *websocket.Conn, typ string) Envelope {
			_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
			for {
				_, data, rerr := ws.ReadMessage()
				require.NoError(t, rerr, "waiting for %s", typ)
				var env Envelope
				if json.Unmarshal(data, &env) != nil {
					continue
				}
				if env.Type == typ {
					return env
				}
			}
		}

		waitFor(ws1, "gameStart")
		env := waitFor(ws1, "update")
		var st PlayerState
		require.NoError(t, json.Unmarshal(env.Payload, &st))
		require.NotNil(t, st.MyAssignment)
		waitFor(ws2, "update")

		submit := func(ws *websocket.Conn, author, clue string) {
			payload, _ := json.Marshal(SubmitCluesPayload{
				SessionID: room.ID(),
				AuthorID:  author,
				Clues:     ClueText(clue),
			})
			require.NoError(t, ws.WriteJSON(Envelope{Type: "clues", Payload: payload}))
		}
		submit(ws1, "u1", "かわいい")
		submit(ws2, "u2", "かわいい")

		env = waitFor(ws1, "roundResult")
		var res RoundResultPayload
		require.NoError(t, json.Unmarshal(env.Payload, &res))
		assert.True(t, res.Matched)
		assert.Equal(t, 1, res.PairScore)

		// the fetch messages answer on the requesting socket only
		require.NoError(t, ws2.WriteJSON(Envelope{Type: "fetchLobby"}))
		waitFor(ws2, "lobbyUpdate")
	})
}

func TestServer_CardsNext(t *testing.T) {
	ts, _ := newTestHTTPServer(t, "v1/ayumu.png", "v1/setsuna.png", "v1/shioriko.png", "v2/mia.png")

	t.Run("deals from the requested version", func(t *testing.T) {
		code, body := doJSON(t, http.MethodGet, ts.URL+"/api/cards/next?version=v1&limit=2", "")
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "v1", body["selectedVersion"])

		cards := body["cards"].([]any)
		require.Len(t, cards, 2)
		for _, c := range cards {
			card := c.(map[string]any)
			assert.Equal(t, "v1", card["version"])
			assert.True(t, strings.HasPrefix(card["imageUrl"].(string), "http://"))
		}
	})

	t.Run("exclude removes held cards", func(t *testing.T) {
		code, body := doJSON(t, http.MethodGet,
			ts.URL+"/api/cards/next?version=v1&limit=10&exclude=v1::ayumu,v1::setsuna", "")
		require.Equal(t, http.StatusOK, code)

		cards := body["cards"].([]any)
		require.Len(t, cards, 1)
		assert.Equal(t, "v1::shioriko", cards[0].(map[string]any)["id"])
	})

	t.Run("no version deals from every card and echoes null", func(t *testing.T) {
		code, body := doJSON(t, http.MethodGet, ts.URL+"/api/cards/next", "")
		require.Equal(t, http.StatusOK, code)
		assert.Nil(t, body["selectedVersion"])
		assert.Len(t, body["cards"].([]any), 4, "default limit covers the whole pool")
	})

	t.Run("limit larger than the pool is fine", func(t *testing.T) {
		code, body := doJSON(t, http.MethodGet, ts.URL+"/api/cards/next?version=v2&limit=50", "")
		require.Equal(t, http.StatusOK, code)
		assert.Len(t, body["cards"].([]any), 1)
	})
}

// memStepStore keeps markings in memory for handler tests.
type memStepStore struct {
	nextID int64
	rows   []StepRow
}

func stepKeyMatch(row StepRow, rec StepRecord) bool {
	sameRound := (row.Round == nil && rec.Round == nil) ||
		(row.Round != nil && rec.Round != nil && *row.Round == *rec.Round)
	return row.SessionID == rec.SessionID && sameRound &&
		row.PlayerID == rec.PlayerID && row.HintIndex == rec.HintIndex &&
		row.CharacterID == rec.CharacterID
}

func (m *memStepStore) RecordStep(_ context.Context, rec StepRecord) error {
	m.nextID++
	m.rows = append(m.rows, StepRow{
		ID:          m.nextID,
		SessionID:   rec.SessionID,
		Round:       rec.Round,
		PlayerID:    rec.PlayerID,
		HintIndex:   rec.HintIndex,
		HintText:    rec.HintText,
		CharacterID: rec.CharacterID,
		CreatedAt:   time.Now(),
	})
	return nil
}

func (m *memStepStore) DeleteStep(_ context.Context, rec StepRecord) error {
	kept := m.rows[:0]
	for _, row := range m.rows {
		if !stepKeyMatch(row, rec) {
			kept = append(kept, row)
		}
	}
	m.rows = kept
	return nil
}

func (m *memStepStore) Steps(_ context.Context, sessionID, playerID string, round *int) ([]StepRow, error) {
	var out []StepRow
	for _, row := range m.rows {
		if row.SessionID != sessionID {
			continue
		}
		if playerID != "" && row.PlayerID != playerID {
			continue
		}
		if round != nil && (row.Round == nil || *row.Round != *round) {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (m *memStepStore) StepsSummary(_ context.Context, sessionID string) (map[string]StepCharacterSummary, error) {
	out := make(map[string]StepCharacterSummary)
	for _, row := range m.rows {
		if row.SessionID != sessionID {
			continue
		}
		sum, ok := out[row.CharacterID]
		if !ok {
			sum = StepCharacterSummary{CharacterID: row.CharacterID, Name: row.CharacterID}
		}
		sum.Hints = append(sum.Hints, StepHint{HintIndex: row.HintIndex, HintText: row.HintText})
		out[row.CharacterID] = sum
	}
	return out, nil
}

func TestServer_StepEndpointsWithoutDB(t *testing.T) {
	ts, _ := newTestHTTPServer(t, "v1/ayumu.png")

	for _, probe := range []struct {
		method, path string
	}{
		{http.MethodPost, "/api/session/S1/step"},
		{http.MethodDelete, "/api/session/S1/step"},
		{http.MethodGet, "/api/session/S1/steps"},
		{http.MethodGet, "/api/session/S1/steps/summary"},
	} {
		code, body := doJSON(t, probe.method, ts.URL+probe.path, `{"playerId":"u1","hintIndex":0,"characterId":"v1::ayumu"}`)
		assert.Equal(t, http.StatusNotImplemented, code, "%s %s", probe.method, probe.path)
		assert.Equal(t, "db not configured", body["error"])
	}
}

func TestServer_StepEndpoints(t *testing.T) {
	svc := newTestService(t, Config{AdvanceDelay: time.Second, ReapDelay: time.Second}, "v1/ayumu.png")
	steps := &memStepStore{}
	server := NewServer(svc, svc.catalog, svc.resolver, steps)

	mux := http.NewServeMux()
	server.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	room, err := svc.Create("")
	require.NoError(t, err)
	sessionURL := ts.URL + "/api/session/" + room.ID()

	t.Run("post records with the session round", func(t *testing.T) {
		code, body := doJSON(t, http.MethodPost, sessionURL+"/step",
			`{"playerId":"u1","hintIndex":0,"hintText":"かわいい","characterId":"v1::ayumu"}`)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, true, body["ok"])

		require.Len(t, steps.rows, 1)
		require.NotNil(t, steps.rows[0].Round, "live session markings carry the round")
		assert.Equal(t, room.CurrentRound(), *steps.rows[0].Round)
	})

	t.Run("missing fields rejected", func(t *testing.T) {
		code, body := doJSON(t, http.MethodPost, sessionURL+"/step", `{"playerId":"u1"}`)
		require.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "playerId, hintIndex, characterId are required", body["error"])
	})

	t.Run("hintIndex zero is valid", func(t *testing.T) {
		code, _ := doJSON(t, http.MethodPost, sessionURL+"/step",
			`{"playerId":"u2","hintIndex":0,"characterId":"v1::ayumu"}`)
		require.Equal(t, http.StatusOK, code)
	})

	t.Run("steps list filters by player", func(t *testing.T) {
		code, body := doJSON(t, http.MethodGet, sessionURL+"/steps?playerId=u1", "")
		require.Equal(t, http.StatusOK, code)
		list := body["steps"].([]any)
		require.Len(t, list, 1)
		row := list[0].(map[string]any)
		assert.Equal(t, "u1", row["playerId"])
		assert.Equal(t, "v1::ayumu", row["characterId"])
		assert.Equal(t, "かわいい", row["hintText"])
	})

	t.Run("summary groups per character", func(t *testing.T) {
		code, body := doJSON(t, http.MethodGet, sessionURL+"/steps/summary", "")
		require.Equal(t, http.StatusOK, code)
		summary := body["summary"].(map[string]any)
		require.Contains(t, summary, "v1::ayumu")
		entry := summary["v1::ayumu"].(map[string]any)
		assert.Equal(t, "v1::ayumu", entry["characterId"])
		assert.Len(t, entry["hints"].([]any), 2)
	})

	t.Run("delete takes the mark back", func(t *testing.T) {
		code, body := doJSON(t, http.MethodDelete, sessionURL+"/step",
			`{"playerId":"u1","hintIndex":0,"characterId":"v1::ayumu"}`)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, true, body["ok"])

		code, body = doJSON(t, http.MethodGet, sessionURL+"/steps?playerId=u1", "")
		require.Equal(t, http.StatusOK, code)
		assert.Empty(t, body["steps"])
	})

	t.Run("other methods fall through to 404", func(t *testing.T) {
		resp, err := http.Get(sessionURL + "/step")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("unknown session still accepted, without a round", func(t *testing.T) {
		code, _ := doJSON(t, http.MethodPost, ts.URL+"/api/session/GONE42/step",
			`{"playerId":"u1","hintIndex":1,"characterId":"v1::ayumu"}`)
		require.Equal(t, http.StatusOK, code)

		last := steps.rows[len(steps.rows)-1]
		assert.Nil(t, last.Round)
	})
}

func TestStepsSummaryPath(t *testing.T) {
	t.Parallel()

	cases := []struct {
		path string
		want string
		ok   bool
	}{
		{path: "/api/session/ABC123/steps/summary", want: "ABC123", ok: true},
		{path: "/api/session/ABC123/steps", ok: false},
		{path: "/api/session//steps/summary", ok: false},
		{path: "/api/session/a/b/steps/summary", ok: false},
		{path: "/api/rooms/ABC123/steps/summary", ok: false},
	}

	for _, tc := range cases {
		id, ok := stepsSummaryPath(tc.path)
		require.Equal(t, tc.ok, ok, "path=%q", tc.path)
		if tc.ok {
			assert.Equal(t, tc.want, id)
		}
	}
}

func TestPathIDAction(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		path       string
		prefix     string
		wantID     string
		wantAction string
		ok         bool
	}{
		{name: "valid", path: "/api/rooms/ABC123/join", prefix: "/api/rooms/", wantID: "ABC123", wantAction: "join", ok: true},
		{name: "session_valid", path: "/api/session/XYZ/state", prefix: "/api/session/", wantID: "XYZ", wantAction: "state", ok: true},
		{name: "missing_action", path: "/api/rooms/ABC123", prefix: "/api/rooms/", ok: false},
		{name: "trailing_slash", path: "/api/rooms/ABC123/", prefix: "/api/rooms/", ok: false},
		{name: "extra_segment", path: "/api/rooms/ABC123/join/x", prefix: "/api/rooms/", ok: false},
		{name: "empty_id", path: "/api/rooms//join", prefix: "/api/rooms/", ok: false},
		{name: "wrong_prefix", path: "/api/other/ABC123/join", prefix: "/api/rooms/", ok: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			id, action, ok := pathIDAction(tc.path, tc.prefix)
			require.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.wantID, id)
				assert.Equal(t, tc.wantAction, action)
			}
		})
	}
}
