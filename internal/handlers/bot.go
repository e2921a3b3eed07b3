package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tlw-bit/cherbot/internal/config"
	"github.com/tlw-bit/cherbot/internal/giveaway"
	"github.com/tlw-bit/cherbot/internal/models"
	"github.com/tlw-bit/cherbot/internal/platform"
	"github.com/tlw-bit/cherbot/internal/raffle"
	"github.com/tlw-bit/cherbot/internal/xp"
	"github.com/tlw-bit/cherbot/pkg/errorx"
)

const joinButtonData = "giveaway:join"

// Bot routes chat events to the raffle, giveaway and XP engines and
// renders their results back to the chat. All persistence happens in
// the engines; this layer only talks.
type Bot struct {
	cfg       *config.Config
	messenger platform.Messenger
	raffles   *raffle.Engine
	giveaways *giveaway.Engine
	xp        *xp.Tracker
	log       zerolog.Logger
}

func NewBot(cfg *config.Config, m platform.Messenger, r *raffle.Engine, g *giveaway.Engine, x *xp.Tracker, log zerolog.Logger) *Bot {
	b := &Bot{cfg: cfg, messenger: m, raffles: r, giveaways: g, xp: x, log: log}
	r.OnClosed = b.announceClosure
	g.OnEnded = b.announceGiveawayEnd
	return b
}

// scopeOf maps a channel (or thread) id to its raffle scope, the
// enclosing chat.
func scopeOf(channelID string) string {
	if i := strings.IndexByte(channelID, '.'); i >= 0 {
		return channelID[:i]
	}
	return channelID
}

func (b *Bot) recoverPanic(what string) {
	if r := recover(); r != nil {
		b.log.Error().Interface("panic", r).Str("event", what).Msg("handler panicked")
	}
}

func (b *Bot) reply(ctx context.Context, channelID, text string) {
	if _, err := b.messenger.Send(ctx, channelID, text); err != nil {
		b.log.Warn().Err(err).Str("channel", channelID).Msg("send failed")
	}
}

// replyErr renders engine errors as user-facing messages. Coded errors
// carry their own phrasing; anything else gets a generic line and a
// log entry.
func (b *Bot) replyErr(ctx context.Context, channelID string, err error) {
	var e errorx.Error
	if errorx.AsError(err, &e) {
		b.reply(ctx, channelID, e.Message)
		return
	}
	b.log.Error().Err(err).Str("channel", channelID).Msg("command failed")
	b.reply(ctx, channelID, "Something went wrong, try again.")
}

func (b *Bot) HandleCommand(ctx context.Context, cmd platform.Command) {
	defer b.recoverPanic("command")

	switch cmd.Name {
	case "raffle":
		b.handleRaffle(ctx, cmd)
	case "giveaway":
		b.handleGiveaway(ctx, cmd)
	case "roll":
		b.handleRoll(ctx, cmd)
	case "level", "stats":
		b.handleLevel(ctx, cmd)
	case "leaderboard":
		b.handleLeaderboard(ctx, cmd)
	case "givexp":
		b.handleGiveXP(ctx, cmd)
	case "xpreset":
		b.handleXPReset(ctx, cmd)
	}
}

// HandleMessage awards XP and treats bare numbers in a raffle channel
// as claims.
func (b *Bot) HandleMessage(ctx context.Context, msg platform.Message) {
	defer b.recoverPanic("message")

	if res, err := b.xp.Award(ctx, msg.UserID); err != nil {
		b.log.Warn().Err(err).Msg("xp award failed")
	} else if res != nil && res.LeveledUp {
		b.reply(ctx, msg.ChannelID, fmt.Sprintf("⬆️ %s reached level %d!", b.messenger.Mention(msg.UserID), res.Level))
	}

	nums, ok := parseNumbers(msg.Text)
	if !ok {
		return
	}
	scope := scopeOf(msg.ChannelID)
	res, err := b.raffles.ClaimSlots(ctx, scope, msg.ChannelID, msg.UserID, nums, msg.Privileged)
	if err != nil {
		if errorx.Is(err, errorx.NotFound) {
			return // plain chatter in a channel without a raffle
		}
		b.replyErr(ctx, msg.ChannelID, err)
		return
	}
	b.afterClaim(ctx, scope, msg.ChannelID, msg.UserID, res)
}

func (b *Bot) HandleButton(ctx context.Context, press platform.ButtonPress) {
	defer b.recoverPanic("button")

	if press.Data != joinButtonData {
		return
	}
	res, err := b.giveaways.Join(ctx, press.MessageID, press.UserID)
	if err != nil {
		text := "This giveaway is no longer open."
		var e errorx.Error
		if errorx.AsError(err, &e) {
			text = e.Message
		}
		if ackErr := b.messenger.AckButton(ctx, press.PressID, text); ackErr != nil {
			b.log.Warn().Err(ackErr).Msg("callback ack failed")
		}
		return
	}
	text := "You're in! 🎉"
	if res.Already {
		text = "You already entered."
	}
	if err := b.messenger.AckButton(ctx, press.PressID, text); err != nil {
		b.log.Warn().Err(err).Msg("callback ack failed")
	}
}

// ---- raffle commands ----

func (b *Bot) handleRaffle(ctx context.Context, cmd platform.Command) {
	sub, rest := splitWord(cmd.Args)
	switch sub {
	case "start":
		b.raffleStart(ctx, cmd, rest)
	case "mini":
		b.raffleMini(ctx, cmd, rest)
	case "draw":
		b.raffleDraw(ctx, cmd)
	case "claim":
		b.raffleClaim(ctx, cmd, rest)
	case "rest":
		b.raffleClaimRest(ctx, cmd)
	case "release":
		b.raffleRelease(ctx, cmd, rest)
	case "split":
		b.raffleSplit(ctx, cmd, rest)
	case "assign":
		b.raffleAssign(ctx, cmd, rest)
	case "total":
		b.raffleTotal(ctx, cmd)
	case "board":
		b.raffleBoard(ctx, cmd)
	case "close":
		b.raffleClose(ctx, cmd)
	default:
		b.reply(ctx, cmd.ChannelID, "Usage: /raffle start|mini|draw|claim|rest|release|split|assign|total|board|close")
	}
}

// raffleStart parses "/raffle start <capacity> [price...] [for <10m|2h|1d>]".
func (b *Bot) raffleStart(ctx context.Context, cmd platform.Command, args string) {
	if !cmd.Privileged {
		b.reply(ctx, cmd.ChannelID, "Only mods can start a raffle.")
		return
	}
	capWord, rest := splitWord(args)
	capacity, err := strconv.Atoi(capWord)
	if err != nil {
		b.reply(ctx, cmd.ChannelID, "Usage: /raffle start <slots> [price] [for 2h]")
		return
	}

	price := rest
	var dur time.Duration
	if i := strings.LastIndex(rest, " for "); i >= 0 {
		if d, derr := giveaway.ParseDuration(rest[i+5:]); derr == nil {
			price = strings.TrimSpace(rest[:i])
			dur = d
		}
	} else if d, derr := giveaway.ParseDuration(rest); derr == nil && rest != "" {
		price = ""
		dur = d
	}

	scope := scopeOf(cmd.ChannelID)
	res, err := b.raffles.StartRaffle(ctx, raffle.StartParams{
		ScopeID:   scope,
		ChannelID: cmd.ChannelID,
		HostID:    cmd.UserID,
		Capacity:  capacity,
		PriceText: price,
		Duration:  dur,
	})
	if err != nil {
		b.replyErr(ctx, cmd.ChannelID, err)
		return
	}

	header := fmt.Sprintf("🎟️ Raffle started: %d slots", res.Capacity)
	if res.PriceText != "" {
		header += " @ " + res.PriceText
	}
	if res.EndsAt > 0 {
		header += fmt.Sprintf("\nCloses %s", time.UnixMilli(res.EndsAt).UTC().Format("15:04 MST"))
	}
	header += "\nType a number to claim it."
	b.reply(ctx, cmd.ChannelID, header)
	b.postBoard(ctx, scope, cmd.ChannelID)
}

// raffleMini parses "/raffle mini <tickets> [slots] [unitPrice]" inside
// the parent raffle channel and opens a thread for the mini.
func (b *Bot) raffleMini(ctx context.Context, cmd platform.Command, args string) {
	if !cmd.Privileged {
		b.reply(ctx, cmd.ChannelID, "Only mods can open a mini.")
		return
	}
	fields := strings.Fields(args)
	if len(fields) < 1 {
		b.reply(ctx, cmd.ChannelID, "Usage: /raffle mini <tickets> [slots] [unit price]")
		return
	}
	tickets, err := strconv.Atoi(fields[0])
	if err != nil {
		b.reply(ctx, cmd.ChannelID, "Tickets must be a number.")
		return
	}
	slots := b.cfg.MiniDefaultSlots
	if len(fields) > 1 {
		if slots, err = strconv.Atoi(fields[1]); err != nil {
			b.reply(ctx, cmd.ChannelID, "Slots must be a number.")
			return
		}
	}
	unitPrice := 0
	if len(fields) > 2 {
		if unitPrice, err = strconv.Atoi(strings.TrimSuffix(fields[2], "c")); err != nil {
			b.reply(ctx, cmd.ChannelID, "Unit price must be a number.")
			return
		}
	} else {
		scope := scopeOf(cmd.ChannelID)
		if t, terr := b.raffles.Totals(ctx, scope, cmd.ChannelID); terr == nil && t.SlotPrice != nil {
			unitPrice = *t.SlotPrice
		}
	}

	threadID, err := b.messenger.CreateThread(ctx, cmd.ChannelID, fmt.Sprintf("🎰 Mini raffle: %dx main", tickets))
	if err != nil {
		b.replyErr(ctx, cmd.ChannelID, err)
		return
	}

	scope := scopeOf(cmd.ChannelID)
	res, err := b.raffles.CreateMini(ctx, raffle.MiniParams{
		ScopeID:         scope,
		ParentChannelID: cmd.ChannelID,
		MiniChannelID:   threadID,
		HostID:          cmd.UserID,
		Tickets:         tickets,
		MiniSlots:       slots,
		UnitPrice:       unitPrice,
	})
	if err != nil {
		b.replyErr(ctx, cmd.ChannelID, err)
		return
	}

	b.reply(ctx, threadID, fmt.Sprintf("%s\n%d slots, type a number to claim.", res.PriceLabel, res.MiniSlots))
	b.reply(ctx, cmd.ChannelID, fmt.Sprintf("Mini opened for %d ticket(s). %d mains left.", res.Tickets, res.MainsLeft))
	b.postBoard(ctx, scope, threadID)
}

// raffleDraw runs the mini draw in the mini's own channel.
func (b *Bot) raffleDraw(ctx context.Context, cmd platform.Command) {
	if !cmd.Privileged {
		b.reply(ctx, cmd.ChannelID, "Only mods can draw.")
		return
	}
	scope := scopeOf(cmd.ChannelID)
	res, err := b.raffles.DrawMini(ctx, scope, cmd.ChannelID)
	if err != nil {
		b.replyErr(ctx, cmd.ChannelID, err)
		return
	}

	win := b.messenger.Mention(res.WinnerID)
	b.reply(ctx, cmd.ChannelID, fmt.Sprintf("🎉 Slot #%d wins! Congrats %s, you won %d main slot(s).", res.WinningSlot, win, res.Tickets))

	if len(res.AutoFilled) > 0 {
		b.reply(ctx, res.ParentChannelID, fmt.Sprintf("%s auto-filled the last slot(s): %s", win, joinInts(res.AutoFilled)))
	} else {
		b.reply(ctx, res.ParentChannelID, fmt.Sprintf("%s won %d mini ticket(s). Claim your slot(s) within %s. %d mains left.",
			win, res.Tickets, b.raffles.MiniWindow, res.MainsLeft))
	}
	b.postBoard(ctx, scope, res.ParentChannelID)
	if res.ParentClosure != nil {
		b.announceClosure(ctx, res.ParentClosure)
	}
}

func (b *Bot) raffleClaim(ctx context.Context, cmd platform.Command, args string) {
	nums, ok := parseNumbers(args)
	if !ok {
		b.reply(ctx, cmd.ChannelID, "Usage: /raffle claim <numbers>")
		return
	}
	scope := scopeOf(cmd.ChannelID)
	res, err := b.raffles.ClaimSlots(ctx, scope, cmd.ChannelID, cmd.UserID, nums, cmd.Privileged)
	if err != nil {
		b.replyErr(ctx, cmd.ChannelID, err)
		return
	}
	b.afterClaim(ctx, scope, cmd.ChannelID, cmd.UserID, res)
}

func (b *Bot) raffleClaimRest(ctx context.Context, cmd platform.Command) {
	scope := scopeOf(cmd.ChannelID)
	res, err := b.raffles.ClaimRemaining(ctx, scope, cmd.ChannelID, cmd.UserID, cmd.Privileged)
	if err != nil {
		b.replyErr(ctx, cmd.ChannelID, err)
		return
	}
	b.afterClaim(ctx, scope, cmd.ChannelID, cmd.UserID, res)
}

func (b *Bot) afterClaim(ctx context.Context, scope, channelID, userID string, res *raffle.ClaimResult) {
	if len(res.Claimed) > 0 {
		line := fmt.Sprintf("%s claimed %s.", b.messenger.Mention(userID), joinInts(res.Claimed))
		if res.Reservation != nil && res.Reservation.Remaining > 0 {
			line += fmt.Sprintf(" %d reserved claim(s) left.", res.Reservation.Remaining)
		}
		b.reply(ctx, channelID, line)
	}
	for _, rej := range res.Rejected {
		switch rej.Reason {
		case errorx.Taken:
			b.reply(ctx, channelID, fmt.Sprintf("#%d is already taken.", rej.Number))
		case errorx.InvalidArgument:
			b.reply(ctx, channelID, fmt.Sprintf("#%d is out of range.", rej.Number))
		}
	}
	if len(res.Claimed) == 0 && len(res.Rejected) == 0 {
		return
	}
	b.postBoard(ctx, scope, channelID)
	if res.BecameFull && res.Closure != nil {
		b.announceClosure(ctx, res.Closure)
		return
	}
	if left, changed, err := b.raffles.AnnounceMainsLeft(ctx, scope, channelID); err == nil && changed {
		b.reply(ctx, channelID, fmt.Sprintf("%d mains left!", left))
	}
}

func (b *Bot) raffleRelease(ctx context.Context, cmd platform.Command, args string) {
	scope := scopeOf(cmd.ChannelID)
	var slot *int
	if w, _ := splitWord(args); w != "" {
		if n, err := strconv.Atoi(w); err == nil {
			slot = &n
		}
	}
	res, err := b.raffles.ReleaseSlots(ctx, scope, cmd.ChannelID, cmd.UserID, slot, cmd.Privileged)
	if err != nil {
		b.replyErr(ctx, cmd.ChannelID, err)
		return
	}
	b.reply(ctx, cmd.ChannelID, fmt.Sprintf("Freed %s.", joinInts(res.Freed)))
	b.postBoard(ctx, scope, cmd.ChannelID)
}

// raffleSplit parses "/raffle split <slot> <user>".
func (b *Bot) raffleSplit(ctx context.Context, cmd platform.Command, args string) {
	slotWord, rest := splitWord(args)
	slot, err := strconv.Atoi(slotWord)
	other := parseUserRef(rest)
	if err != nil || other == "" {
		b.reply(ctx, cmd.ChannelID, "Usage: /raffle split <slot> <user>")
		return
	}
	scope := scopeOf(cmd.ChannelID)
	res, err := b.raffles.SplitSlot(ctx, scope, cmd.ChannelID, slot, other, cmd.UserID, cmd.Privileged)
	if err != nil {
		b.replyErr(ctx, cmd.ChannelID, err)
		return
	}
	b.reply(ctx, cmd.ChannelID, fmt.Sprintf("Slot #%d is now %s + %s.",
		res.Slot, b.messenger.Mention(res.Owner), b.messenger.Mention(res.CoOwner)))
	b.postBoard(ctx, scope, cmd.ChannelID)
}

// raffleAssign parses "/raffle assign <slot> <user> [second user]".
func (b *Bot) raffleAssign(ctx context.Context, cmd platform.Command, args string) {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		b.reply(ctx, cmd.ChannelID, "Usage: /raffle assign <slot> <user> [second user]")
		return
	}
	slot, err := strconv.Atoi(fields[0])
	if err != nil {
		b.reply(ctx, cmd.ChannelID, "Slot must be a number.")
		return
	}
	holder := parseUserRef(fields[1])
	second := ""
	if len(fields) > 2 {
		second = parseUserRef(fields[2])
	}

	scope := scopeOf(cmd.ChannelID)
	res, err := b.raffles.AssignSlot(ctx, scope, cmd.ChannelID, slot, holder, second, cmd.Privileged)
	if err != nil {
		b.replyErr(ctx, cmd.ChannelID, err)
		return
	}
	b.reply(ctx, cmd.ChannelID, fmt.Sprintf("Slot #%d assigned.", res.Slot))
	b.postBoard(ctx, scope, cmd.ChannelID)
	if res.BecameFull && res.Closure != nil {
		b.announceClosure(ctx, res.Closure)
	}
}

func (b *Bot) raffleTotal(ctx context.Context, cmd platform.Command) {
	scope := scopeOf(cmd.ChannelID)
	t, err := b.raffles.Totals(ctx, scope, cmd.ChannelID)
	if err != nil {
		b.replyErr(ctx, cmd.ChannelID, err)
		return
	}
	b.reply(ctx, cmd.ChannelID, raffle.RenderTotals(t, b.messenger.Mention))
}

func (b *Bot) raffleBoard(ctx context.Context, cmd platform.Command) {
	scope := scopeOf(cmd.ChannelID)
	if _, ok := b.raffles.Snapshot(scope, cmd.ChannelID, b.messenger.Mention); !ok {
		b.reply(ctx, cmd.ChannelID, "No raffle found here.")
		return
	}
	b.postBoard(ctx, scope, cmd.ChannelID)
}

func (b *Bot) raffleClose(ctx context.Context, cmd platform.Command) {
	if !cmd.Privileged {
		b.reply(ctx, cmd.ChannelID, "Only mods can close a raffle.")
		return
	}
	scope := scopeOf(cmd.ChannelID)
	c, err := b.raffles.CloseRaffle(ctx, models.RaffleKey(scope, cmd.ChannelID), false)
	if err != nil {
		b.replyErr(ctx, cmd.ChannelID, err)
		return
	}
	if c == nil {
		b.reply(ctx, cmd.ChannelID, "Raffle is already closed.")
		return
	}
	b.reply(ctx, cmd.ChannelID, "Raffle closed.")
	b.postBoard(ctx, scope, cmd.ChannelID)
	b.announceClosure(ctx, c)
}

// postBoard renders the board and edits the pinned board message in
// place, posting a fresh one the first time.
func (b *Bot) postBoard(ctx context.Context, scope, channelID string) {
	snap, ok := b.raffles.Snapshot(scope, channelID, b.messenger.Mention)
	if !ok {
		return
	}
	if snap.BoardMessageID != "" {
		if err := b.messenger.Edit(ctx, channelID, snap.BoardMessageID, snap.Board); err == nil {
			return
		}
		// fall through and repost when the old message is gone
	}
	id, err := b.messenger.Send(ctx, channelID, snap.Board)
	if err != nil {
		b.log.Warn().Err(err).Str("channel", channelID).Msg("board post failed")
		return
	}
	if err := b.raffles.SetBoardMessage(ctx, scope, channelID, id); err != nil {
		b.log.Warn().Err(err).Msg("board message id not saved")
	}
}

// announceClosure posts the FULL banner, host ping and totals after a
// raffle leaves ACTIVE. Called from command paths and from the close
// timer via the engine callback.
func (b *Bot) announceClosure(ctx context.Context, c *raffle.Closure) {
	channelID := models.ChannelOfKey(c.Key)
	scope := scopeOf(channelID)

	if c.TimerExpired {
		b.reply(ctx, channelID, "⏰ Time's up! This raffle is now closed.")
	} else {
		b.reply(ctx, channelID, "✅ FULL! All slots are claimed.")
	}
	b.postBoard(ctx, scope, channelID)

	if c.NotifyHost {
		ping := b.messenger.Mention(c.HostID)
		if b.cfg.GambaMention != "" {
			ping += " " + b.cfg.GambaMention
		}
		b.reply(ctx, channelID, fmt.Sprintf("%s your raffle is ready to roll! 🎲", ping))
	}
	if c.PostTotals && c.Totals != nil {
		b.reply(ctx, channelID, raffle.RenderTotals(c.Totals, b.messenger.Mention))
	}
}

// ---- giveaway commands ----

func (b *Bot) handleGiveaway(ctx context.Context, cmd platform.Command) {
	sub, rest := splitWord(cmd.Args)
	switch sub {
	case "start":
		b.giveawayStart(ctx, cmd, rest)
	case "end":
		b.giveawayEnd(ctx, cmd, rest, false)
	case "reroll":
		b.giveawayEnd(ctx, cmd, rest, true)
	case "list":
		b.giveawayList(ctx, cmd)
	default:
		b.reply(ctx, cmd.ChannelID, "Usage: /giveaway start <duration> <winners> <prize>  |  end <id>  |  reroll <id>  |  list")
	}
}

func (b *Bot) giveawayStart(ctx context.Context, cmd platform.Command, args string) {
	if !cmd.Privileged {
		b.reply(ctx, cmd.ChannelID, "Only mods can start a giveaway.")
		return
	}
	durWord, rest := splitWord(args)
	dur, err := giveaway.ParseDuration(durWord)
	if err != nil {
		b.replyErr(ctx, cmd.ChannelID, err)
		return
	}
	winWord, prize := splitWord(rest)
	winners, err := strconv.Atoi(winWord)
	if err != nil || prize == "" {
		b.reply(ctx, cmd.ChannelID, "Usage: /giveaway start <duration> <winners> <prize>")
		return
	}

	// The announcement goes out first so its message id can key the
	// giveaway and its join button.
	now := time.Now()
	preview := &models.Giveaway{
		Prize:       prize,
		WinnerCount: winners,
		EndsAt:      now.Add(dur).UnixMilli(),
	}
	msgID, err := b.messenger.SendWithButton(ctx, cmd.ChannelID, giveaway.Describe(preview, b.messenger.Mention), "🎉 Enter", joinButtonData)
	if err != nil {
		b.replyErr(ctx, cmd.ChannelID, err)
		return
	}

	if _, err := b.giveaways.Start(ctx, giveaway.StartParams{
		ID:          msgID,
		ChannelID:   cmd.ChannelID,
		Prize:       prize,
		Duration:    dur,
		WinnerCount: winners,
		HostID:      cmd.UserID,
	}); err != nil {
		b.replyErr(ctx, cmd.ChannelID, err)
	}
}

func (b *Bot) giveawayEnd(ctx context.Context, cmd platform.Command, args string, reroll bool) {
	if !cmd.Privileged {
		b.reply(ctx, cmd.ChannelID, "Only mods can end or reroll a giveaway.")
		return
	}
	id, _ := splitWord(args)
	if id == "" {
		b.reply(ctx, cmd.ChannelID, "Give the giveaway message id.")
		return
	}
	res, err := b.giveaways.End(ctx, id, reroll)
	if err != nil {
		b.replyErr(ctx, cmd.ChannelID, err)
		return
	}
	b.announceGiveawayEnd(ctx, res)
}

func (b *Bot) announceGiveawayEnd(ctx context.Context, res *giveaway.EndResult) {
	channelID := res.Giveaway.ChannelID
	if err := b.messenger.DisableButton(ctx, channelID, res.ID); err != nil {
		b.log.Debug().Err(err).Msg("join button not cleared")
	}

	if len(res.Winners) == 0 {
		b.reply(ctx, channelID, fmt.Sprintf("Giveaway for %s ended with no entries. 😢", res.Giveaway.Prize))
		return
	}
	mentions := make([]string, len(res.Winners))
	for i, w := range res.Winners {
		mentions[i] = b.messenger.Mention(w)
	}
	verb := "won"
	if res.Reroll {
		verb = "rerolled and won"
	}
	b.reply(ctx, channelID, fmt.Sprintf("🎊 %s %s: %s!", strings.Join(mentions, ", "), verb, res.Giveaway.Prize))
}

func (b *Bot) giveawayList(ctx context.Context, cmd platform.Command) {
	listings := b.giveaways.List(ctx)
	if len(listings) == 0 {
		b.reply(ctx, cmd.ChannelID, "No giveaways yet.")
		return
	}
	var sb strings.Builder
	sb.WriteString("🎁 Giveaways:\n")
	for _, l := range listings {
		status := "open"
		if l.Ended {
			status = "ended"
		}
		fmt.Fprintf(&sb, "• [%s] %s — %d winner(s), %d entries (%s)\n", l.ID, l.Prize, l.WinnerCount, l.Entries, status)
	}
	b.reply(ctx, cmd.ChannelID, sb.String())
}

// ---- dice and XP commands ----

func (b *Bot) handleRoll(ctx context.Context, cmd platform.Command) {
	if !cmd.Privileged {
		b.reply(ctx, cmd.ChannelID, "Only mods can roll the dice.")
		return
	}
	word, _ := splitWord(cmd.Args)
	die, err := strconv.Atoi(strings.TrimPrefix(strings.ToLower(word), "d"))
	if err != nil {
		b.reply(ctx, cmd.ChannelID, "Usage: /roll <die size>")
		return
	}
	scope := scopeOf(cmd.ChannelID)
	res, err := b.raffles.Roll(ctx, scope, cmd.ChannelID, die)
	if err != nil {
		b.replyErr(ctx, cmd.ChannelID, err)
		return
	}
	line := fmt.Sprintf("🎲 d%d → %d", res.Die, res.Number)
	if res.CapacityDraw {
		if res.WinnerID != "" {
			line += fmt.Sprintf("\n🏆 Slot #%d belongs to %s!", res.Number, b.messenger.Mention(res.WinnerID))
		} else {
			line += fmt.Sprintf("\nSlot #%d is unclaimed, roll again!", res.Number)
		}
	}
	b.reply(ctx, cmd.ChannelID, line)
}

func (b *Bot) handleLevel(ctx context.Context, cmd platform.Command) {
	target := cmd.UserID
	if ref := parseUserRef(cmd.Args); ref != "" {
		target = ref
	}
	u := b.xp.Stats(target)
	if u == nil {
		b.reply(ctx, cmd.ChannelID, "No XP yet, say something first!")
		return
	}
	b.reply(ctx, cmd.ChannelID, fmt.Sprintf("%s is level %d (%d/%d XP)",
		b.messenger.Mention(target), u.Level, u.XP, xp.Needed(u.Level)))
}

func (b *Bot) handleLeaderboard(ctx context.Context, cmd platform.Command) {
	entries := b.xp.Leaderboard(10)
	if len(entries) == 0 {
		b.reply(ctx, cmd.ChannelID, "Nobody has XP yet.")
		return
	}
	var sb strings.Builder
	sb.WriteString("🏅 Leaderboard:\n")
	for i, e := range entries {
		fmt.Fprintf(&sb, "%d. %s — level %d (%d XP)\n", i+1, b.messenger.Mention(e.UserID), e.Level, e.XP)
	}
	b.reply(ctx, cmd.ChannelID, sb.String())
}

func (b *Bot) handleGiveXP(ctx context.Context, cmd platform.Command) {
	if !cmd.Privileged {
		b.reply(ctx, cmd.ChannelID, "Mods only.")
		return
	}
	userWord, amountWord := splitWord(cmd.Args)
	target := parseUserRef(userWord)
	amount, err := strconv.Atoi(strings.TrimSpace(amountWord))
	if target == "" || err != nil {
		b.reply(ctx, cmd.ChannelID, "Usage: /givexp <user> <amount>")
		return
	}
	res, err := b.xp.Grant(ctx, target, amount)
	if err != nil {
		b.replyErr(ctx, cmd.ChannelID, err)
		return
	}
	b.reply(ctx, cmd.ChannelID, fmt.Sprintf("Gave %d XP to %s (now level %d).", res.Awarded, b.messenger.Mention(target), res.Level))
}

func (b *Bot) handleXPReset(ctx context.Context, cmd platform.Command) {
	if !cmd.Privileged {
		b.reply(ctx, cmd.ChannelID, "Mods only.")
		return
	}
	target := parseUserRef(cmd.Args)
	if target == "" {
		b.reply(ctx, cmd.ChannelID, "Usage: /xpreset <user>")
		return
	}
	if err := b.xp.Reset(ctx, target); err != nil {
		b.replyErr(ctx, cmd.ChannelID, err)
		return
	}
	b.reply(ctx, cmd.ChannelID, "XP reset.")
}

// ---- parsing helpers ----

func splitWord(s string) (first, rest string) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i], strings.TrimSpace(s[i+1:])
	}
	return s, ""
}

// parseNumbers reads a message that is nothing but slot numbers, like
// "7" or "3 4 12". Anything else is not a claim.
func parseNumbers(text string) ([]int, bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return nil, false
	}
	nums := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(strings.TrimSuffix(f, ","))
		if err != nil {
			return nil, false
		}
		nums = append(nums, n)
	}
	return nums, true
}

// joinInts formats slot numbers as "#1, #2, #3".
func joinInts(nums []int) string {
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = "#" + strconv.Itoa(n)
	}
	return strings.Join(parts, ", ")
}

// parseUserRef accepts a numeric user id or an @handle and returns the
// holder id string, empty if neither.
func parseUserRef(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.HasPrefix(s, "@") {
		return s
	}
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return s
	}
	return ""
}
