package operations

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/descriptor"
	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/service"
	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/session"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/cache"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/tenant"
)

const (
	// PlayerListLimit caps the players operation.
	PlayerListLimit = 100

	playerCountKey = "players:count"

	countPlayers = "SELECT COUNT(*) FROM users WHERE id > ?"
	listPlayers  = "SELECT id, name, access, gold, lastLogin FROM users WHERE id > ? ORDER BY id LIMIT ?"
	insertLog    = "INSERT INTO admin_log (uid, log, time) VALUES (?, ?, ?)"
)

var funcs = template.FuncMap{
	"ago":   func(t, now time.Time) string { return humanize.RelTime(t, now, "ago", "from now") },
	"comma": func(v int64) string { return humanize.Comma(v) },
	"unix": func(ts int64) string {
		if ts == 0 {
			return "never"
		}
		return time.Unix(ts, 0).UTC().Format(service.StartTimeLayout)
	},
}

var views = template.Must(template.New("operations").Funcs(funcs).Parse(`
{{define "overview"}}<h2>{{.World.Name}}</h2>
<table class="overview">
<tr><th>World</th><td>{{.World.WorldID}} (#{{.World.ID}})</td></tr>
<tr><th>URL</th><td><a href="{{.World.GameWorldURL}}">{{.World.GameWorldURL}}</a></td></tr>
<tr><th>Speed</th><td>{{comma .World.Speed}}x</td></tr>
<tr><th>Start</th><td>{{unix .Config.StartTime}} UTC ({{ago .Start .Now}})</td></tr>
<tr><th>Round length</th><td>{{.World.RoundLength}} days</td></tr>
<tr><th>Map size</th><td>{{.Config.MapSize}}</td></tr>
<tr><th>Installed</th><td>{{if .Config.Installed}}yes{{else}}no{{end}}</td></tr>
<tr><th>Players</th><td>{{comma .Players}}</td></tr>
<tr><th>Flags</th><td>{{if .World.Finished}}finished {{end}}{{if .World.Hidden}}hidden {{end}}{{if .World.RegisterClosed}}registration closed {{end}}{{if .World.Activation}}activation {{end}}</td></tr>
</table>
{{end}}
{{define "info"}}<p>Signed in as <b>{{.UserName}}</b>{{if .Actor}} on behalf of {{.Actor}}{{end}}.</p>{{end}}
{{define "players"}}<h2>Players</h2>
{{if .}}<table class="players">
<tr><th>ID</th><th>Name</th><th>Access</th><th>Gold</th><th>Last login</th></tr>
{{range .}}<tr><td>{{.ID}}</td><td>{{.Name}}</td><td>{{.Access}}</td><td>{{comma .Gold}}</td><td>{{unix .LastLogin}}</td></tr>
{{end}}</table>{{else}}<p>No players yet.</p>{{end}}
{{end}}
{{define "settings"}}<h2>Configuration</h2>
<table class="config">
<tr><th>Title</th><td>{{.Descriptor.Title}}</td></tr>
<tr><th>Server name</th><td>{{.Descriptor.ServerName}}</td></tr>
<tr><th>URL</th><td>{{.Descriptor.GameWorldURL}}</td></tr>
<tr><th>Database</th><td>{{.Descriptor.Database.Database}} @ {{.Descriptor.Database.Hostname}}</td></tr>
<tr><th>World unique id</th><td>{{.Descriptor.Settings.WorldUniqueID}}</td></tr>
<tr><th>Engine</th><td>{{.Descriptor.Settings.EngineFilename}}</td></tr>
<tr><th>Payments disabled</th><td>{{.Descriptor.PaymentFeaturesTotallyDisabled}}</td></tr>
<tr><th>Auto reinstall</th><td>{{if .Descriptor.AutoReinstall.Enabled}}after {{.Descriptor.AutoReinstall.StartAfter}}s{{else}}off{{end}}</td></tr>
</table>
{{with .Overlay}}<h3>Runtime overlay</h3>
<table class="overlay">
<tr><th>Start gold</th><td>{{.Gold.StartGold}}</td></tr>
<tr><th>Protection</th><td>{{.Game.ProtectionTime}}s</td></tr>
<tr><th>Buy troops</th><td>{{.ExtraSettings.BuyTroops.Enabled}} / {{.ExtraSettings.BuyTroops.BuyInterval}}</td></tr>
<tr><th>Buy resources</th><td>{{.ExtraSettings.BuyResources.Enabled}} / {{.ExtraSettings.BuyResources.BuyInterval}}</td></tr>
<tr><th>Buy animals</th><td>{{.ExtraSettings.BuyAnimals.Enabled}} / {{.ExtraSettings.BuyAnimals.BuyInterval}}</td></tr>
<tr><th>Instant training</th><td>{{.ExtraSettings.GeneralOptions.FinishTraining.Enabled}}</td></tr>
<tr><th>Buy adventure</th><td>{{.ExtraSettings.GeneralOptions.BuyAdventure.Enabled}}</td></tr>
</table>{{else}}<p>No runtime overlay.</p>{{end}}
{{end}}
{{define "flushed"}}<p>Flushed {{.}} cache entries.</p>{{end}}
`))

// Overview renders the world summary and the signed-in operator.
func Overview(ctx context.Context, s *Scope) error {
	players, err := playerCount(ctx, s)
	if err != nil {
		return err
	}
	data := struct {
		World   service.World
		Config  ConfigRow
		Start   time.Time
		Now     time.Time
		Players int64
	}{s.World, s.Config, s.Config.Start(), s.now(), players}

	if err := views.ExecuteTemplate(&s.Out, "overview", data); err != nil {
		return err
	}
	return views.ExecuteTemplate(&s.Info, "info", s.Session)
}

// playerCount is served from the world cache when possible.
func playerCount(ctx context.Context, s *Scope) (int64, error) {
	if s.Cache != nil {
		if raw, err := s.Cache.Get(ctx, playerCountKey); err == nil {
			if n, perr := strconv.ParseInt(string(raw), 10, 64); perr == nil {
				return n, nil
			}
		} else if !errors.Is(err, cache.ErrMiss) {
			s.logger().Warn("player count cache read failed", zap.Error(err))
		}
	}

	var n int64
	if err := s.DB.QueryRowContext(ctx, countPlayers, session.SuperOperatorID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count players: %w", err)
	}
	if s.Cache != nil {
		if err := s.Cache.Set(ctx, playerCountKey, []byte(strconv.FormatInt(n, 10)), s.Global.Cache.TTL); err != nil {
			s.logger().Warn("player count cache write failed", zap.Error(err))
		}
	}
	return n, nil
}

// Player is one row of the players operation.
type Player struct {
	ID        int64
	Name      string
	Access    int
	Gold      int64
	LastLogin int64
}

// Players lists the first players of the world, skipping built-in accounts.
func Players(ctx context.Context, s *Scope) error {
	rows, err := s.DB.QueryContext(ctx, listPlayers, session.SuperOperatorID, PlayerListLimit)
	if err != nil {
		return fmt.Errorf("list players: %w", err)
	}
	defer rows.Close()

	var players []Player
	for rows.Next() {
		var p Player
		if err := rows.Scan(&p.ID, &p.Name, &p.Access, &p.Gold, &p.LastLogin); err != nil {
			return fmt.Errorf("scan player: %w", err)
		}
		players = append(players, p)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list players: %w", err)
	}
	return views.ExecuteTemplate(&s.Out, "players", players)
}

// Settings shows the non-secret descriptor fields and the generated runtime overlay.
func Settings(_ context.Context, s *Scope) error {
	overlay, err := readOverlay(s.Root)
	if err != nil {
		return err
	}
	data := struct {
		Descriptor descriptor.Descriptor
		Overlay    *service.Overlay
	}{s.Descriptor, overlay}
	return views.ExecuteTemplate(&s.Out, "settings", data)
}

func readOverlay(root string) (*service.Overlay, error) {
	if root == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(filepath.Join(root, tenant.IncludeDir, tenant.OverlayFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read overlay: %w", err)
	}
	var o service.Overlay
	if err := yaml.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("decode overlay: %w", err)
	}
	return &o, nil
}

// FlushCache drops the world's cache namespace and records it in the admin log.
func FlushCache(ctx context.Context, s *Scope) error {
	if s.Cache == nil {
		return errors.New("world has no cache")
	}
	if active, ok := tenant.FromContext(ctx); ok && active.UniqueID != s.Descriptor.Settings.WorldUniqueID {
		return fmt.Errorf("cache namespace %d does not belong to active world %s", s.Descriptor.Settings.WorldUniqueID, active.Slug)
	}
	n, err := s.Cache.Flush(ctx)
	if err != nil {
		return fmt.Errorf("flush cache: %w", err)
	}

	entry := fmt.Sprintf("cache flushed (%d entries)", n)
	if s.Session.Actor != "" {
		entry += " by " + s.Session.Actor
	}
	if _, err := s.DB.ExecContext(ctx, insertLog, s.Session.UserID, entry, s.now().Unix()); err != nil {
		s.logger().Warn("admin log write failed", zap.Error(err))
	}
	s.logger().Info("world cache flushed", zap.String("world_id", s.World.WorldID), zap.Int("entries", n))
	return views.ExecuteTemplate(&s.Out, "flushed", n)
}
