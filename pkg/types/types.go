// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the relay — chat events, parsed
// signals and replies, copy-setup policy, pending trades, sessions, and the
// client wire payloads. It has no dependencies on internal packages, so it
// can be imported by any layer.
package types

import "time"

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of a signal: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// ParseSide coerces a raw direction token to a Side. The second return is
// false for anything that is not exactly BUY or SELL.
func ParseSide(s string) (Side, bool) {
	switch Side(s) {
	case BUY:
		return BUY, true
	case SELL:
		return SELL, true
	default:
		return "", false
	}
}

// ReplyAction enumerates the operational commands a SignalReply can carry
// against a prior Signal.
type ReplyAction string

const (
	ActionClose     ReplyAction = "CLOSE"
	ActionBreakeven ReplyAction = "BREAKEVEN"
	ActionModifySL  ReplyAction = "MODIFY_SL" // requires NewSLPrice
)

// GeneratedBy records which lifecycle path produced a SignalReply.
type GeneratedBy string

const (
	GeneratedByReply  GeneratedBy = "REPLY"  // a chat message replying to the signal
	GeneratedByUpdate GeneratedBy = "UPDATE" // an edit of the signal message
	GeneratedByDelete GeneratedBy = "DELETE" // deletion of the signal message
	GeneratedByAI     GeneratedBy = "AI"     // model-assisted reply extraction
)

// TradeState is the lifecycle state of a distributed trade candidate.
// The server only ever creates PENDING_QUEUE rows; the remaining states
// arrive through client uploads on /poll.
type TradeState string

const (
	TradePendingQueue   TradeState = "PENDING_QUEUE"   // generated, waiting for client pickup
	TradePendingOrder   TradeState = "PENDING_ORDER"   // client placed a pending order
	TradeActivePosition TradeState = "ACTIVE_POSITION" // pending order filled
	TradeExpired        TradeState = "EXPIRED"
	TradeClosed         TradeState = "CLOSED"
)

// CloseReason explains why a client closed an active position.
type CloseReason string

const (
	CloseActiveTimeExpire CloseReason = "ACTIVE_TIME_EXPIRE"
	CloseSLHit            CloseReason = "SL_HIT"
	CloseTPHit            CloseReason = "TP_HIT"
	CloseManual           CloseReason = "MANUAL_CLOSE"
	CloseSignalReply      CloseReason = "SIGNAL_REPLY"
)

// ExpireReason explains why a client expired a pending order before fill.
type ExpireReason string

const (
	ExpireManualCancel    ExpireReason = "MANUAL_CANCEL"
	ExpirePendingTime     ExpireReason = "PENDING_TIME_EXPIRE"
	ExpireSLHit           ExpireReason = "SL_HIT"
	ExpireTPHit           ExpireReason = "TP_HIT"
	ExpireSignalReply     ExpireReason = "SIGNAL_REPLY"
	ExpireSymbolDisabled  ExpireReason = "SYMBOL_DISABLED"
	ExpireFailedExecution ExpireReason = "FAILED_EXECUTION"
)

// LotMode selects how clients size positions for a copy setup.
type LotMode string

const (
	LotAuto  LotMode = "AUTO"  // risk-based sizing on the client
	LotFixed LotMode = "FIXED" // always FixedLot lots
)

// LayerMode selects which price layers of a multi-entry / multi-tp signal
// a client should act on. Applies independently to entries and tps.
type LayerMode string

const (
	LayerAll     LayerMode = "ALL"
	LayerFirst   LayerMode = "FIRST_LAYER"
	LayerLast    LayerMode = "LAST_LAYER"
	LayerAverage LayerMode = "AVERAGE"
)

// ChatKind is the room flavor reported by the chat source.
type ChatKind string

const (
	ChatPrivate    ChatKind = "PRIVATE"
	ChatGroup      ChatKind = "GROUP"
	ChatSuperGroup ChatKind = "SUPER_GROUP"
	ChatChannel    ChatKind = "CHANNEL"
	ChatUnknown    ChatKind = "UNKNOWN"
)

// EventKind is the lifecycle flavor of an observed chat event.
type EventKind string

const (
	EventNew     EventKind = "new"
	EventEdited  EventKind = "edited"
	EventDeleted EventKind = "deleted"
)

// ————————————————————————————————————————————————————————————————————————
// Chat events
// ————————————————————————————————————————————————————————————————————————

// MessageEvent is the normalized event the chat-source adapter hands to the
// lifecycle processor. Exactly one is produced per observed new/edit/delete.
// Chat* fields carry room metadata so the processor can upsert rooms it has
// never seen before.
type MessageEvent struct {
	Kind              EventKind
	ChatExternalID    int64
	MessageExternalID int64
	Text              string
	PostTime          time.Time // normalized to UTC at ingest
	ReplyToExternalID *int64    // set when the message quotes another message

	ChatKind   ChatKind
	ChatTitle  string
	ChatHandle string
}

// ————————————————————————————————————————————————————————————————————————
// Domain rows
// ————————————————————————————————————————————————————————————————————————

// ChatRoom is a durable room record. Rooms join copy setups through a
// many-to-many membership; a room with no active copy setup is ignored by
// the lifecycle processor.
type ChatRoom struct {
	ID         int64
	ExternalID int64
	Kind       ChatKind
	Title      string
	Handle     string
}

// Message records one observed chat utterance, uniquely keyed by
// (ChatRoomID, ExternalMessageID). It is created on first sighting (new or
// edit), updated on edits, and never hard-deleted; deletion of the source
// message is modeled by attaching a SignalReply.
type Message struct {
	ID                int64
	ChatRoomID        int64
	ExternalMessageID int64
	Text              string
	PostTime          time.Time // naive UTC
	ReplyToExternalID *int64
	SignalID          *int64 // set once extraction produced a Signal
	SignalReplyID     *int64 // set once the message carried a reply action
}

// Signal is the canonical structured order intent parsed from a Message.
// Prices are stored in layer order: index 0 is the layer closest to the
// market (BUY entries descending, tps ascending; SELL mirrored).
type Signal struct {
	ID      int64
	Symbol  string // canonical base ticker, e.g. XAUUSD
	Side    Side
	Entries []float64
	TPs     []float64
	SL      float64
}

// SignalReply is an action directed at a prior Signal. The struct doubles
// as the wire scheme delivered to clients; NewSLPrice is persisted but not
// part of the client payload.
type SignalReply struct {
	ID          int64       `json:"id"`
	Action      ReplyAction `json:"action"`
	GeneratedBy GeneratedBy `json:"generated_by"`
	SignalID    int64       `json:"original_signal_id"`
	InfoMessage string      `json:"info_message,omitempty"`
	NewSLPrice  *float64    `json:"-"` // required iff Action == MODIFY_SL
}

// CopySetup is the fan-out unit: a subscription binding chat rooms to a
// policy, authenticated externally by an opaque token.
type CopySetup struct {
	ID       int64
	Token    string // presented by clients via X-CopySetup-Token
	Active   bool
	ConfigID int64

	Config *CopySetupConfig // populated by eager loads, nil otherwise
}

// CopySetupConfig is the policy object governing trade expansion and
// filtering for one copy setup. Zero MaxEntryPrices / MaxTPPrices means
// uncapped.
type CopySetupConfig struct {
	ID             int64
	Name           string
	AllowedSymbols string              // CSV allow-list; "ALL" or empty = built-in set
	SymbolSynonyms map[string][]string // per-setup synonym overrides, canonical → synonyms

	LotMode                        LotMode
	FixedLot                       *float64
	MaxPriceRangePerc              *float64
	MaxRiskPercFromEquityPerSignal *float64

	MaxEntryPrices      int
	MaxTPPrices         int
	MultipleTPMode      LayerMode
	MultipleEntryMode   LayerMode
	IgnoreInvalidPrices bool // drop out-of-range prices instead of rejecting the signal

	CloseOnSignalReply  bool
	ModifyOnSignalReply bool
	CloseOnMsgDelete    bool

	BreakevenOnTPLayer                       *int
	CloseTradesBeforeEverydaySwap            bool
	CloseTradesBeforeWednesdaySwap           bool
	CloseTradesBeforeWeekend                 bool
	TrailingstopOnTPs                        bool
	TradeprofitPercentFromBalansForBreakeven *float64
	ExpireMinutesPendingTrade                *int
	ExpireMinutesActiveTrade                 *int
	ExpireAtTPHitBeforeEntry                 *int
	FollowTPAndSLHitsFromOthers              bool
}

// ————————————————————————————————————————————————————————————————————————
// Trades
// ————————————————————————————————————————————————————————————————————————

// Trade is one (entry, tp) pair expanded from a Signal for a CopySetup.
// The struct doubles as the wire scheme: the server fills the signal-derived
// fields and state PENDING_QUEUE; clients echo rows back on /poll with
// platform fields (ticket, prices, financials) filled in.
//
// SignalEntriesIdx / SignalTPsIdx are zero-based positions in the filtered
// price lists, so clients can map a trade back to its layer.
type Trade struct {
	ID          int64 `json:"id,omitempty"`
	SignalID    int64 `json:"signal_id"`
	CopySetupID int64 `json:"-"` // server-side routing only, never sent

	Ticket *int64 `json:"ticket,omitempty"` // platform order/position id
	Symbol string `json:"symbol,omitempty"`
	Side   Side   `json:"type,omitempty"`

	EntryPrice   *float64 `json:"entry_price,omitempty"`
	OpenPrice    *float64 `json:"open_price,omitempty"` // actual fill, may differ from entry
	SLPrice      *float64 `json:"sl_price,omitempty"`
	TPPrice      *float64 `json:"tp_price,omitempty"`
	ModifiedSL   *float64 `json:"modified_sl,omitempty"`
	ClosePrice   *float64 `json:"close_price,omitempty"`
	CurrentPrice *float64 `json:"current_price,omitempty"`

	OpenDatetime       *time.Time `json:"open_datetime,omitempty"`
	CloseDatetime      *time.Time `json:"close_datetime,omitempty"`
	SignalPostDatetime *time.Time `json:"signal_post_datetime,omitempty"` // always UTC

	State            TradeState    `json:"state"`
	SignalTPsIdx     *int          `json:"signal_tps_idx,omitempty"`
	SignalEntriesIdx *int          `json:"signal_entries_idx,omitempty"`
	CloseReason      *CloseReason  `json:"close_reason,omitempty"`
	ExpireReason     *ExpireReason `json:"expire_reason,omitempty"`

	Volume     *float64 `json:"volume,omitempty"`
	PnL        *float64 `json:"pnl,omitempty"`
	Swap       *float64 `json:"swap,omitempty"`
	Commission *float64 `json:"commission,omitempty"`
	Fee        *float64 `json:"fee,omitempty"`
	Comment    string   `json:"comment,omitempty"`
	Magic      *int64   `json:"magic,omitempty"`
}

// ————————————————————————————————————————————————————————————————————————
// Sessions
// ————————————————————————————————————————————————————————————————————————

// Session is the per-client authenticated context held in the queue store,
// keyed by a rotating refresh token. Every successful poll mints a new
// token and resets the TTL.
type Session struct {
	RefreshToken     string `json:"refresh_token"`
	CopySetupID      int64  `json:"copy_setup_id"`
	ClientInstanceID string `json:"client_instance_id"` // stable per client install
	IP               string `json:"ip"`
	PollInterval     int    `json:"poll_interval"` // seconds, client-requested
}

// ————————————————————————————————————————————————————————————————————————
// Wire payloads
// ————————————————————————————————————————————————————————————————————————
// Request bodies reject unknown fields; validation tags are enforced by the
// API layer before any state is touched.

// ClientInitBody is the request payload for POST /client/init.
type ClientInitBody struct {
	AccountID        int64   `json:"account_id" validate:"required"`
	AccountName      string  `json:"account_name" validate:"required"`
	AccountServer    string  `json:"account_server" validate:"required"`
	AccountBalance   float64 `json:"account_balance"`
	AccountEquity    float64 `json:"account_equity"`
	AccountOpenPnL   float64 `json:"account_open_pnl"`
	PollInterval     int     `json:"poll_interval" validate:"required,gt=0"`
	ClientVersion    float64 `json:"client_version" validate:"required"`
	ClientInstanceID string  `json:"client_instance_id,omitempty"` // omit on first install
}

// ClientInitResponse is returned by POST /client/init with status 201.
// The config projection tells the client how to size, expire, and manage
// the trades it will receive.
type ClientInitResponse struct {
	ClientInstanceID string         `json:"client_instance_id"`
	RefreshToken     string         `json:"refresh_token"`
	ExpireSec        int            `json:"expire_sec"`
	ServerCaps       map[string]any `json:"server_caps"` // reserved, currently {}
	LotMode          LotMode        `json:"lot_mode"`

	FixedLot                                 *float64 `json:"fixed_lot,omitempty"`
	BreakevenOnTPLayer                       *int     `json:"breakeven_on_tp_layer,omitempty"`
	CloseTradesBeforeEverydaySwap            bool     `json:"close_trades_before_everyday_swap"`
	CloseTradesBeforeWednesdaySwap           bool     `json:"close_trades_before_wednesday_swap"`
	CloseTradesBeforeWeekend                 bool     `json:"close_trades_before_weekend"`
	TrailingstopOnTPs                        bool     `json:"trailingstop_on_tps"`
	TradeprofitPercentFromBalansForBreakeven *float64 `json:"tradeprofit_percent_from_balans_for_breakeven,omitempty"`
	ExpireMinutesPendingTrade                *int     `json:"expire_minutes_pending_trade,omitempty"`
	ExpireMinutesActiveTrade                 *int     `json:"expire_minutes_active_trade,omitempty"`
	ExpireAtTPHitBeforeEntry                 *int     `json:"expire_at_tp_hit_before_entry,omitempty"`
}

// PollBody is the request payload for POST /poll. Trades carries
// client-side state updates; the ack lists delete delivered pending items.
type PollBody struct {
	AccountID         int64   `json:"account_id" validate:"required"`
	ClientInstanceID  string  `json:"client_instance_id" validate:"required"`
	AccountBalance    float64 `json:"account_balance"`
	AccountEquity     float64 `json:"account_equity"`
	Trades            []Trade `json:"trades"`
	TradeAckIDs       []int64 `json:"trade_ack_ids"`
	SignalReplyAckIDs []int64 `json:"signal_reply_ack_ids"`
}

// PollResponse is returned by POST /poll with status 200. RefreshToken is
// freshly minted; the previous token stops resolving immediately.
type PollResponse struct {
	RefreshToken  string        `json:"refresh_token"`
	Trades        []Trade       `json:"trades"`
	SignalReplies []SignalReply `json:"signal_replies"`
}
