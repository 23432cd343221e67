package composer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"killtracker/internal/models"
	"killtracker/internal/universe"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DefaultColor is used when a tracker has no valid color.
const DefaultColor = 0xBF2A2A

// NameResolver resolves entity ids to display names. Returning an error
// wrapping universe.ErrNamesUnavailable makes the composer fall back to ids.
type NameResolver interface {
	ResolveNames(ctx context.Context, ids []int64) (map[int64]string, error)
}

// Composer renders matched killmails into Discord messages.
type Composer struct {
	resolver  NameResolver
	lookup    universe.Lookup
	policy    RetryPolicy
	username  string
	avatarURL string
	logger    *zap.Logger
}

// NewComposer creates a composer. resolver and lookup may be nil.
func NewComposer(resolver NameResolver, lookup universe.Lookup, policy RetryPolicy, username, avatarURL string, logger *zap.Logger) *Composer {
	return &Composer{
		resolver:  resolver,
		lookup:    lookup,
		policy:    policy,
		username:  username,
		avatarURL: avatarURL,
		logger:    logger.Named("composer"),
	}
}

// ComposeWithRetry is Compose under the retry policy. It returns the last
// error once the retries are used up.
func (c *Composer) ComposeWithRetry(ctx context.Context, t *models.Tracker, km *models.Killmail) (*models.Message, error) {
	var msg *models.Message
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		m, err := c.Compose(ctx, t, km)
		if err != nil {
			return err
		}
		msg = m
		return nil
	}, func(attempt int, err error, wait time.Duration) {
		c.logger.Info("retrying message composition",
			zap.Int64("tracker_id", t.ID),
			zap.Int64("killmail_id", km.ID),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compose message for %s: %w", km, err)
	}
	return msg, nil
}

// Compose builds the message for a matched killmail.
func (c *Composer) Compose(ctx context.Context, t *models.Tracker, km *models.Killmail) (*models.Message, error) {
	names, err := c.resolveNames(ctx, km)
	if err != nil {
		return nil, err
	}
	r := &render{names: names}

	var system universe.SolarSystem
	if km.SolarSystemID != nil && c.lookup != nil {
		system, _ = c.lookup.SolarSystem(*km.SolarSystemID)
	}
	systemName := "unknown location"
	if km.SolarSystemID != nil {
		systemName = r.name(km.SolarSystemID)
		if system.Name != "" {
			systemName = system.Name
		}
	}

	victimName := r.name(km.Victim.CharacterID)
	if km.Victim.CharacterID == nil {
		victimName = r.name(km.Victim.CorporationID)
	}
	victimShip := r.name(km.Victim.ShipTypeID)

	embed := &discordgo.MessageEmbed{
		Title:     fmt.Sprintf("%s | %s | %s", victimName, victimShip, systemName),
		URL:       fmt.Sprintf("https://zkillboard.com/kill/%d/", km.ID),
		Color:     parseColor(t.Color),
		Timestamp: km.Time.UTC().Format(time.RFC3339),
		Footer:    &discordgo.MessageEmbedFooter{Text: t.Name},
	}
	if km.Victim.ShipTypeID != nil {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{
			URL: fmt.Sprintf("https://images.evetech.net/types/%d/render?size=128", *km.Victim.ShipTypeID),
		}
	}

	var desc strings.Builder
	fmt.Fprintf(&desc, "%s lost their %s in %s", r.org(km.Victim.CharacterID, km.Victim.CorporationID, km.Victim.AllianceID), victimShip, systemName)
	if system.ID != 0 {
		fmt.Fprintf(&desc, " (%s, %s)", system.SecSpace(), r.name(&system.RegionID))
	}
	if km.Zkb != nil {
		fmt.Fprintf(&desc, " worth **%s**", formatISKHuman(km.Zkb.TotalValue))
	}
	desc.WriteString(".")
	if fb, ok := km.FinalBlow(); ok {
		fmt.Fprintf(&desc, "\nFinal blow by %s", r.org(fb.CharacterID, fb.CorporationID, fb.AllianceID))
		if fb.ShipTypeID != nil {
			fmt.Fprintf(&desc, " in a %s", r.name(fb.ShipTypeID))
		}
		desc.WriteString(".")
	}
	fmt.Fprintf(&desc, "\nAttackers: %d", len(km.Attackers))
	if main := km.MainAttackerGroup(); main != nil {
		fmt.Fprintf(&desc, " | Main group: %s (%d)", r.name(&main.ID), main.Count)
	}
	if km.TrackerInfo != nil && len(km.TrackerInfo.MatchingShipTypeIDs) > 0 {
		ships := make([]string, 0, len(km.TrackerInfo.MatchingShipTypeIDs))
		for i := range km.TrackerInfo.MatchingShipTypeIDs {
			ships = append(ships, r.name(&km.TrackerInfo.MatchingShipTypeIDs[i]))
		}
		fmt.Fprintf(&desc, "\nTracked ship types: %s", strings.Join(ships, ", "))
	}
	embed.Description = desc.String()

	var content []string
	if prefix := t.PingPrefix(); prefix != "" {
		content = append(content, prefix)
	}
	if t.IsPostingName {
		content = append(content, fmt.Sprintf("Tracker **%s**:", t.Name))
	}

	msg := models.NewMessage(strings.Join(content, " "), embed)
	msg.Username = c.username
	msg.AvatarURL = c.avatarURL
	return msg, nil
}

func (c *Composer) resolveNames(ctx context.Context, km *models.Killmail) (map[int64]string, error) {
	if c.resolver == nil {
		return nil, nil
	}
	ids := displayIDs(km, c.lookup)
	names, err := c.resolver.ResolveNames(ctx, ids)
	if errors.Is(err, universe.ErrNamesUnavailable) {
		c.logger.Debug("names unavailable, falling back to ids", zap.Int64("killmail_id", km.ID), zap.Error(err))
		return names, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve names: %w", err)
	}
	return names, nil
}

// displayIDs lists the ids whose names appear in a message.
func displayIDs(km *models.Killmail, lookup universe.Lookup) []int64 {
	set := make(map[int64]struct{})
	add := func(ptrs ...*int64) {
		for _, p := range ptrs {
			if p != nil {
				set[*p] = struct{}{}
			}
		}
	}
	v := km.Victim
	add(v.CharacterID, v.CorporationID, v.AllianceID, v.ShipTypeID, km.SolarSystemID)
	if fb, ok := km.FinalBlow(); ok {
		add(fb.CharacterID, fb.CorporationID, fb.AllianceID, fb.ShipTypeID)
	}
	if main := km.MainAttackerGroup(); main != nil {
		add(&main.ID)
	}
	if km.SolarSystemID != nil && lookup != nil {
		if system, ok := lookup.SolarSystem(*km.SolarSystemID); ok && system.RegionID != 0 {
			add(&system.RegionID)
		}
	}
	if km.TrackerInfo != nil {
		for i := range km.TrackerInfo.MatchingShipTypeIDs {
			add(&km.TrackerInfo.MatchingShipTypeIDs[i])
		}
	}
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

type render struct {
	names map[int64]string
}

func (r *render) name(id *int64) string {
	if id == nil {
		return "?"
	}
	if n, ok := r.names[*id]; ok && n != "" {
		return n
	}
	return "#" + strconv.FormatInt(*id, 10)
}

// org renders "character (corporation / alliance)", skipping missing parts.
func (r *render) org(character, corporation, alliance *int64) string {
	var groups []string
	if corporation != nil {
		groups = append(groups, r.name(corporation))
	}
	if alliance != nil {
		groups = append(groups, r.name(alliance))
	}
	who := r.name(character)
	if character == nil {
		if len(groups) == 0 {
			return "?"
		}
		who, groups = groups[0], groups[1:]
	}
	if len(groups) == 0 {
		return who
	}
	return fmt.Sprintf("%s (%s)", who, strings.Join(groups, " / "))
}

// parseColor turns "#rrggbb" into an embed color.
func parseColor(s string) int {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return DefaultColor
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return DefaultColor
	}
	return int(v)
}

func formatISKHuman(value float64) string {
	switch {
	case value >= 1_000_000_000_000:
		return fmt.Sprintf("%.2fT ISK", value/1_000_000_000_000)
	case value >= 1_000_000_000:
		return fmt.Sprintf("%.2fB ISK", value/1_000_000_000)
	case value >= 1_000_000:
		return fmt.Sprintf("%.2fM ISK", value/1_000_000)
	case value >= 1_000:
		return fmt.Sprintf("%.2fK ISK", value/1_000)
	default:
		return fmt.Sprintf("%.2f ISK", value)
	}
}
