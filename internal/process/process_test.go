package process

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"signal-relay/internal/extract"
	"signal-relay/internal/repo"
	"signal-relay/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeRepo keeps the relational state in maps and hands out ids from one
// sequence. Links mutate stored rows the way the SQL layer does.
type fakeRepo struct {
	nextID   int64
	rooms    map[int64]types.ChatRoom
	roomExt  map[int64]int64
	setups   map[int64][]types.CopySetup
	messages map[int64]types.Message
	msgExt   map[[2]int64]int64
	signals  map[int64]types.Signal
	replies  map[int64]types.SignalReply
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		rooms:    make(map[int64]types.ChatRoom),
		roomExt:  make(map[int64]int64),
		setups:   make(map[int64][]types.CopySetup),
		messages: make(map[int64]types.Message),
		msgExt:   make(map[[2]int64]int64),
		signals:  make(map[int64]types.Signal),
		replies:  make(map[int64]types.SignalReply),
	}
}

func (f *fakeRepo) id() int64 { f.nextID++; return f.nextID }

// seedRoom registers a chat with one active copy setup and returns the
// room's internal id.
func (f *fakeRepo) seedRoom(chatExt int64) int64 {
	id := f.id()
	f.rooms[id] = types.ChatRoom{ID: id, ExternalID: chatExt, Kind: types.ChatChannel}
	f.roomExt[chatExt] = id
	f.setups[id] = []types.CopySetup{{
		ID:       11,
		Token:    "tok",
		Active:   true,
		ConfigID: 1,
		Config:   &types.CopySetupConfig{IgnoreInvalidPrices: true},
	}}
	return id
}

func (f *fakeRepo) seedSignal(sig types.Signal) int64 {
	sig.ID = f.id()
	f.signals[sig.ID] = sig
	return sig.ID
}

func (f *fakeRepo) seedMessage(roomID, extID int64, text string, signalID, replyID *int64) int64 {
	id := f.id()
	f.messages[id] = types.Message{
		ID:                id,
		ChatRoomID:        roomID,
		ExternalMessageID: extID,
		Text:              text,
		PostTime:          time.Date(2025, 3, 7, 12, 0, 0, 0, time.UTC),
		SignalID:          signalID,
		SignalReplyID:     replyID,
	}
	f.msgExt[[2]int64{roomID, extID}] = id
	return id
}

func (f *fakeRepo) UpsertChatRoom(_ context.Context, _ repo.Querier, room *types.ChatRoom) error {
	if id, ok := f.roomExt[room.ExternalID]; ok {
		room.ID = id
		return nil
	}
	room.ID = f.id()
	f.roomExt[room.ExternalID] = room.ID
	f.rooms[room.ID] = *room
	return nil
}

func (f *fakeRepo) GetChatRoomByExternalID(_ context.Context, _ repo.Querier, externalID int64) (*types.ChatRoom, error) {
	id, ok := f.roomExt[externalID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	room := f.rooms[id]
	return &room, nil
}

func (f *fakeRepo) GetActiveCopySetupsByChat(_ context.Context, _ repo.Querier, chatRoomID int64) ([]types.CopySetup, error) {
	return f.setups[chatRoomID], nil
}

func (f *fakeRepo) GetMessageByExternal(_ context.Context, _ repo.Querier, chatRoomID, externalMessageID int64) (*types.Message, error) {
	id, ok := f.msgExt[[2]int64{chatRoomID, externalMessageID}]
	if !ok {
		return nil, repo.ErrNotFound
	}
	msg := f.messages[id]
	return &msg, nil
}

func (f *fakeRepo) InsertMessage(_ context.Context, _ repo.Querier, msg *types.Message) error {
	key := [2]int64{msg.ChatRoomID, msg.ExternalMessageID}
	if id, ok := f.msgExt[key]; ok {
		stored := f.messages[id]
		stored.Text = msg.Text
		f.messages[id] = stored
		msg.ID = id
		return nil
	}
	msg.ID = f.id()
	f.messages[msg.ID] = *msg
	f.msgExt[key] = msg.ID
	return nil
}

func (f *fakeRepo) UpdateMessageText(_ context.Context, _ repo.Querier, id int64, text string) error {
	msg, ok := f.messages[id]
	if !ok {
		return repo.ErrNotFound
	}
	msg.Text = text
	f.messages[id] = msg
	return nil
}

func (f *fakeRepo) LinkMessageSignal(_ context.Context, _ repo.Querier, messageID, signalID int64) error {
	msg, ok := f.messages[messageID]
	if !ok {
		return repo.ErrNotFound
	}
	msg.SignalID = &signalID
	f.messages[messageID] = msg
	return nil
}

func (f *fakeRepo) LinkMessageReply(_ context.Context, _ repo.Querier, messageID, signalReplyID int64) error {
	msg, ok := f.messages[messageID]
	if !ok {
		return repo.ErrNotFound
	}
	msg.SignalReplyID = &signalReplyID
	f.messages[messageID] = msg
	return nil
}

func (f *fakeRepo) InsertSignal(_ context.Context, _ repo.Querier, sig *types.Signal) error {
	sig.ID = f.id()
	f.signals[sig.ID] = *sig
	return nil
}

func (f *fakeRepo) UpdateSignal(_ context.Context, _ repo.Querier, sig *types.Signal) error {
	if _, ok := f.signals[sig.ID]; !ok {
		return repo.ErrNotFound
	}
	f.signals[sig.ID] = *sig
	return nil
}

func (f *fakeRepo) GetSignal(_ context.Context, _ repo.Querier, id int64) (*types.Signal, error) {
	sig, ok := f.signals[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &sig, nil
}

func (f *fakeRepo) InsertSignalReply(_ context.Context, _ repo.Querier, reply *types.SignalReply) error {
	reply.ID = f.id()
	f.replies[reply.ID] = *reply
	return nil
}

func (f *fakeRepo) WithTx(_ context.Context, fn func(tx pgx.Tx) error) error { return fn(nil) }

func (f *fakeRepo) Pool() repo.Querier { return nil }

// fakeDist records what the processor hands to distribution.
type fakeDist struct {
	signalIDs []int64
	replies   []types.SignalReply
}

func (f *fakeDist) DistributeSignal(_ context.Context, signalID int64) error {
	f.signalIDs = append(f.signalIDs, signalID)
	return nil
}

func (f *fakeDist) DistributeReply(_ context.Context, reply types.SignalReply) error {
	f.replies = append(f.replies, reply)
	return nil
}

func newTestProcessor(fr *fakeRepo, fd *fakeDist) *Processor {
	return New(fr, extract.New(nil, 0, testLogger()), fd, testLogger())
}

func newEvent(kind types.EventKind, chatExt, msgExt int64, text string) types.MessageEvent {
	return types.MessageEvent{
		Kind:              kind,
		ChatExternalID:    chatExt,
		MessageExternalID: msgExt,
		Text:              text,
		PostTime:          time.Date(2025, 3, 7, 14, 30, 0, 0, time.UTC),
		ChatKind:          types.ChatChannel,
		ChatTitle:         "Gold Signals",
	}
}

func onlySignal(t *testing.T, f *fakeRepo) types.Signal {
	t.Helper()
	if len(f.signals) != 1 {
		t.Fatalf("stored signals = %d, want 1", len(f.signals))
	}
	for _, sig := range f.signals {
		return sig
	}
	return types.Signal{}
}

func onlyReply(t *testing.T, f *fakeRepo) types.SignalReply {
	t.Helper()
	if len(f.replies) != 1 {
		t.Fatalf("stored replies = %d, want 1", len(f.replies))
	}
	for _, reply := range f.replies {
		return reply
	}
	return types.SignalReply{}
}

func TestHandleEventNewSignalMessage(t *testing.T) {
	t.Parallel()

	fr := newFakeRepo()
	fd := &fakeDist{}
	roomID := fr.seedRoom(100)

	p := newTestProcessor(fr, fd)
	p.HandleEvent(context.Background(), newEvent(types.EventNew, 100, 555, "BUY GOLD @ 1950 ENTRY 1945 TP 1960 TP 1970 SL 1940"))

	sig := onlySignal(t, fr)
	if sig.Symbol != "XAUUSD" || sig.Side != types.BUY {
		t.Errorf("signal = %s/%s, want XAUUSD/BUY", sig.Symbol, sig.Side)
	}
	if sig.SL != 1940 {
		t.Errorf("sl = %v, want 1940", sig.SL)
	}

	msgID, ok := fr.msgExt[[2]int64{roomID, 555}]
	if !ok {
		t.Fatal("message row was not stored")
	}
	msg := fr.messages[msgID]
	if msg.SignalID == nil || *msg.SignalID != sig.ID {
		t.Errorf("message signal link = %v, want %d", msg.SignalID, sig.ID)
	}
	if len(fd.signalIDs) != 1 || fd.signalIDs[0] != sig.ID {
		t.Errorf("distributed signals = %v, want [%d]", fd.signalIDs, sig.ID)
	}
}

func TestHandleEventChatterStoresMessage(t *testing.T) {
	t.Parallel()

	fr := newFakeRepo()
	fd := &fakeDist{}
	roomID := fr.seedRoom(100)

	p := newTestProcessor(fr, fd)
	p.HandleEvent(context.Background(), newEvent(types.EventNew, 100, 556, "good morning traders, how are we doing"))

	msgID, ok := fr.msgExt[[2]int64{roomID, 556}]
	if !ok {
		t.Fatal("chatter message should still be stored")
	}
	msg := fr.messages[msgID]
	if msg.SignalID != nil || msg.SignalReplyID != nil {
		t.Errorf("chatter message carries links: %v/%v", msg.SignalID, msg.SignalReplyID)
	}
	if len(fr.signals) != 0 || len(fd.signalIDs) != 0 {
		t.Errorf("chatter produced %d signals, %d distributions", len(fr.signals), len(fd.signalIDs))
	}
}

func TestHandleEventNoActiveSetups(t *testing.T) {
	t.Parallel()

	fr := newFakeRepo()
	fd := &fakeDist{}
	roomID := fr.seedRoom(100)
	fr.setups[roomID] = nil

	p := newTestProcessor(fr, fd)
	p.HandleEvent(context.Background(), newEvent(types.EventNew, 100, 555, "BUY GOLD @ 1950 ENTRY 1945 TP 1960 TP 1970 SL 1940"))

	if len(fr.messages) != 0 {
		t.Errorf("stored %d messages for a chat without setups, want 0", len(fr.messages))
	}
	if len(fd.signalIDs) != 0 {
		t.Errorf("distributed %v for a chat without setups", fd.signalIDs)
	}
}

func TestHandleEventShortTextFiltered(t *testing.T) {
	t.Parallel()

	fr := newFakeRepo()
	fd := &fakeDist{}
	fr.seedRoom(100)

	p := newTestProcessor(fr, fd)
	p.HandleEvent(context.Background(), newEvent(types.EventNew, 100, 555, "ok"))

	if len(fr.messages) != 0 {
		t.Errorf("stored %d messages for filtered text, want 0", len(fr.messages))
	}
}

func TestHandleEventReplyBreakeven(t *testing.T) {
	t.Parallel()

	fr := newFakeRepo()
	fd := &fakeDist{}
	roomID := fr.seedRoom(100)
	sid := fr.seedSignal(types.Signal{
		Symbol: "XAUUSD", Side: types.BUY,
		Entries: []float64{1950}, TPs: []float64{1960}, SL: 1940,
	})
	fr.seedMessage(roomID, 555, "BUY GOLD @ 1950 TP 1960 SL 1940", &sid, nil)

	evt := newEvent(types.EventNew, 100, 556, "move SL to entry")
	parent := int64(555)
	evt.ReplyToExternalID = &parent

	p := newTestProcessor(fr, fd)
	p.HandleEvent(context.Background(), evt)

	reply := onlyReply(t, fr)
	if reply.Action != types.ActionBreakeven {
		t.Errorf("action = %s, want BREAKEVEN", reply.Action)
	}
	if reply.GeneratedBy != types.GeneratedByReply {
		t.Errorf("generated by = %s, want REPLY", reply.GeneratedBy)
	}
	if reply.SignalID != sid {
		t.Errorf("reply targets signal %d, want %d", reply.SignalID, sid)
	}

	msgID := fr.msgExt[[2]int64{roomID, 556}]
	msg := fr.messages[msgID]
	if msg.SignalReplyID == nil || *msg.SignalReplyID != reply.ID {
		t.Errorf("message reply link = %v, want %d", msg.SignalReplyID, reply.ID)
	}
	if len(fd.replies) != 1 || fd.replies[0].ID != reply.ID {
		t.Errorf("distributed replies = %v, want one with id %d", fd.replies, reply.ID)
	}
}

func TestHandleEventDeleteClosesSignal(t *testing.T) {
	t.Parallel()

	fr := newFakeRepo()
	fd := &fakeDist{}
	roomID := fr.seedRoom(100)
	sid := fr.seedSignal(types.Signal{
		Symbol: "XAUUSD", Side: types.BUY,
		Entries: []float64{1950}, TPs: []float64{1960}, SL: 1940,
	})
	mid := fr.seedMessage(roomID, 555, "BUY GOLD @ 1950 TP 1960 SL 1940", &sid, nil)

	p := newTestProcessor(fr, fd)
	p.HandleEvent(context.Background(), newEvent(types.EventDeleted, 100, 555, ""))

	reply := onlyReply(t, fr)
	if reply.Action != types.ActionClose {
		t.Errorf("action = %s, want CLOSE", reply.Action)
	}
	if reply.GeneratedBy != types.GeneratedByDelete {
		t.Errorf("generated by = %s, want DELETE", reply.GeneratedBy)
	}
	if reply.SignalID != sid {
		t.Errorf("reply targets signal %d, want %d", reply.SignalID, sid)
	}
	if reply.InfoMessage != "Signal message was deleted" {
		t.Errorf("info = %q", reply.InfoMessage)
	}

	msg := fr.messages[mid]
	if msg.SignalReplyID == nil || *msg.SignalReplyID != reply.ID {
		t.Errorf("message reply link = %v, want %d", msg.SignalReplyID, reply.ID)
	}
	if len(fd.replies) != 1 {
		t.Fatalf("distributed replies = %d, want 1", len(fd.replies))
	}
	if fd.replies[0].Action != types.ActionClose {
		t.Errorf("distributed action = %s, want CLOSE", fd.replies[0].Action)
	}
}

func TestHandleEventDeleteRedelivered(t *testing.T) {
	t.Parallel()

	fr := newFakeRepo()
	fd := &fakeDist{}
	roomID := fr.seedRoom(100)
	sid := fr.seedSignal(types.Signal{Symbol: "XAUUSD", Side: types.BUY, SL: 1940})
	rid := int64(99)
	fr.seedMessage(roomID, 555, "BUY GOLD @ 1950 TP 1960 SL 1940", &sid, &rid)

	p := newTestProcessor(fr, fd)
	p.HandleEvent(context.Background(), newEvent(types.EventDeleted, 100, 555, ""))

	if len(fr.replies) != 0 {
		t.Errorf("redelivered delete created %d replies, want 0", len(fr.replies))
	}
	if len(fd.replies) != 0 {
		t.Errorf("redelivered delete distributed %d replies, want 0", len(fd.replies))
	}
}

func TestHandleEventDeleteNoOps(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		seed func(f *fakeRepo)
	}{
		{
			name: "unknown chat",
			seed: func(f *fakeRepo) {},
		},
		{
			name: "unknown message",
			seed: func(f *fakeRepo) { f.seedRoom(100) },
		},
		{
			name: "message without signal",
			seed: func(f *fakeRepo) {
				roomID := f.seedRoom(100)
				f.seedMessage(roomID, 555, "good morning traders", nil, nil)
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fr := newFakeRepo()
			fd := &fakeDist{}
			tc.seed(fr)

			p := newTestProcessor(fr, fd)
			p.HandleEvent(context.Background(), newEvent(types.EventDeleted, 100, 555, ""))

			if len(fr.replies) != 0 || len(fd.replies) != 0 {
				t.Errorf("delete produced %d stored / %d distributed replies, want none",
					len(fr.replies), len(fd.replies))
			}
		})
	}
}

func TestHandleEventEditRewritesSignal(t *testing.T) {
	t.Parallel()

	fr := newFakeRepo()
	fd := &fakeDist{}
	roomID := fr.seedRoom(100)
	sid := fr.seedSignal(types.Signal{
		Symbol: "XAUUSD", Side: types.BUY,
		Entries: []float64{1950, 1945}, TPs: []float64{1960}, SL: 1940,
	})
	mid := fr.seedMessage(roomID, 555, "BUY GOLD @ 1950 ENTRY 1945 TP 1960 SL 1940", &sid, nil)

	p := newTestProcessor(fr, fd)
	p.HandleEvent(context.Background(), newEvent(types.EventEdited, 100, 555, "BUY GOLD @ 1955 ENTRY 1948 TP 1975 SL 1944"))

	if len(fr.signals) != 1 {
		t.Fatalf("edit created a new signal row: %d signals", len(fr.signals))
	}
	sig := fr.signals[sid]
	if sig.ID != sid {
		t.Errorf("signal id = %d, want %d preserved", sig.ID, sid)
	}
	if sig.SL != 1944 {
		t.Errorf("sl = %v, want rewritten 1944", sig.SL)
	}
	if len(sig.Entries) != 2 || sig.Entries[0] != 1955 {
		t.Errorf("entries = %v, want [1955 1948]", sig.Entries)
	}
	if fr.messages[mid].Text != "BUY GOLD @ 1955 ENTRY 1948 TP 1975 SL 1944" {
		t.Errorf("message text not updated: %q", fr.messages[mid].Text)
	}
	if len(fd.signalIDs) != 1 || fd.signalIDs[0] != sid {
		t.Errorf("distributed signals = %v, want [%d]", fd.signalIDs, sid)
	}
}

func TestHandleEventEditBecomesCloseReply(t *testing.T) {
	t.Parallel()

	fr := newFakeRepo()
	fd := &fakeDist{}
	roomID := fr.seedRoom(100)
	sid := fr.seedSignal(types.Signal{
		Symbol: "XAUUSD", Side: types.BUY,
		Entries: []float64{1950}, TPs: []float64{1960}, SL: 1940,
	})
	mid := fr.seedMessage(roomID, 555, "BUY GOLD @ 1950 TP 1960 SL 1940", &sid, nil)

	p := newTestProcessor(fr, fd)
	p.HandleEvent(context.Background(), newEvent(types.EventEdited, 100, 555, "Please CLOSE the trade."))

	reply := onlyReply(t, fr)
	if reply.Action != types.ActionClose {
		t.Errorf("action = %s, want CLOSE", reply.Action)
	}
	if reply.GeneratedBy != types.GeneratedByUpdate {
		t.Errorf("generated by = %s, want UPDATE", reply.GeneratedBy)
	}
	msg := fr.messages[mid]
	if msg.SignalReplyID == nil || *msg.SignalReplyID != reply.ID {
		t.Errorf("message reply link = %v, want %d", msg.SignalReplyID, reply.ID)
	}
	if msg.Text != "Please CLOSE the trade." {
		t.Errorf("message text not updated: %q", msg.Text)
	}
	if len(fd.replies) != 1 {
		t.Errorf("distributed replies = %d, want 1", len(fd.replies))
	}
}

func TestHandleEventEditUnparseableKeepsSignal(t *testing.T) {
	t.Parallel()

	fr := newFakeRepo()
	fd := &fakeDist{}
	roomID := fr.seedRoom(100)
	sid := fr.seedSignal(types.Signal{
		Symbol: "XAUUSD", Side: types.BUY,
		Entries: []float64{1950}, TPs: []float64{1960}, SL: 1940,
	})
	mid := fr.seedMessage(roomID, 555, "BUY GOLD @ 1950 TP 1960 SL 1940", &sid, nil)

	p := newTestProcessor(fr, fd)
	p.HandleEvent(context.Background(), newEvent(types.EventEdited, 100, 555, "what a great day for the markets"))

	if got := fr.signals[sid]; got.SL != 1940 || len(got.Entries) != 1 {
		t.Errorf("signal changed by unparseable edit: %+v", got)
	}
	if len(fr.replies) != 0 {
		t.Errorf("unparseable edit created %d replies, want 0", len(fr.replies))
	}
	if fr.messages[mid].Text != "what a great day for the markets" {
		t.Errorf("edit text not applied: %q", fr.messages[mid].Text)
	}
	if len(fd.signalIDs) != 0 || len(fd.replies) != 0 {
		t.Errorf("unparseable edit distributed work: %v / %v", fd.signalIDs, fd.replies)
	}
}

func TestHandleEventActionMessageIsTerminal(t *testing.T) {
	t.Parallel()

	fr := newFakeRepo()
	fd := &fakeDist{}
	roomID := fr.seedRoom(100)
	rid := int64(77)
	mid := fr.seedMessage(roomID, 555, "move SL to entry", nil, &rid)

	p := newTestProcessor(fr, fd)
	p.HandleEvent(context.Background(), newEvent(types.EventEdited, 100, 555, "move SL to entry NOW"))

	if len(fr.replies) != 0 || len(fd.replies) != 0 {
		t.Errorf("terminal message produced work: %d stored / %d distributed",
			len(fr.replies), len(fd.replies))
	}
	if fr.messages[mid].Text != "move SL to entry" {
		t.Errorf("terminal message text changed: %q", fr.messages[mid].Text)
	}
}
