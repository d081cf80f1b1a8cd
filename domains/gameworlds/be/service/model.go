package service

import (
	"strings"
	"time"

	"github.com/zenGate-Global/palmyra-worlds/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/tenant"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/worlddb"
)

// StartTimeLayout is the accepted start time format, always interpreted as UTC.
const StartTimeLayout = "2006-01-02T15:04"

// World is one registry entry.
type World struct {
	ID                     int64
	WorldID                string
	Name                   string
	Speed                  int64
	Version                int
	GameWorldURL           string
	StartTime              time.Time
	RoundLength            int
	PreregistrationKeyOnly bool
	Promoted               bool
	Hidden                 bool
	Finished               bool
	RegisterClosed         bool
	Activation             bool
	ConfigFileLocation     string
	Archived               bool
	RowVersion             int64
	CreatedAt              time.Time
}

// Field is a lifecycle flag operators may set or flip.
type Field string

const (
	FieldFinished       Field = "finished"
	FieldHidden         Field = "hidden"
	FieldRegisterClosed Field = "registerClosed"
	FieldActivation     Field = "activation"
)

// ParseField accepts only the toggleable lifecycle flags.
func ParseField(name string) (Field, error) {
	switch f := Field(name); f {
	case FieldFinished, FieldHidden, FieldRegisterClosed, FieldActivation:
		return f, nil
	default:
		return "", ErrFieldNotAllowed
	}
}

// Of returns the flag's current value on w.
func (f Field) Of(w World) bool { return flagValue(w, f) }

// DatabaseInput is the tenant database target supplied by the operator.
type DatabaseInput struct {
	Host     string `json:"host"`
	User     string `json:"user"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// ProvisionRequest carries everything needed to create a world. Decode JSON over
// DefaultProvisionRequest so omitted fields keep their defaults.
type ProvisionRequest struct {
	WorldID                 string        `json:"worldId"`
	ServerName              string        `json:"serverName"`
	Speed                   int64         `json:"speed"`
	RoundLength             int           `json:"roundLength"`
	MapSize                 int           `json:"mapSize"`
	StartTime               string        `json:"startTime"`
	Database                DatabaseInput `json:"database"`
	AdminPassword           string        `json:"adminPassword"`
	IsPromoted              bool          `json:"isPromoted"`
	NeedPreregistrationCode bool          `json:"needPreregistrationCode"`
	ServerHidden            bool          `json:"serverHidden"`
	Activation              bool          `json:"activation"`
	StartGold               int           `json:"startGold"`
	BuyTroops               bool          `json:"buyTroops"`
	BuyTroopsInterval       int           `json:"buyTroopsInterval"`
	BuyResources            bool          `json:"buyResources"`
	BuyResourcesInterval    int           `json:"buyResourcesInterval"`
	BuyAnimals              bool          `json:"buyAnimals"`
	BuyAnimalsInterval      int           `json:"buyAnimalsInterval"`
	ProtectionHours         int           `json:"protectionHours"`
	InstantFinishTraining   bool          `json:"instantFinishTraining"`
	BuyAdventure            bool          `json:"buyAdventure"`
	AutoReinstall           bool          `json:"autoReinstall"`
	AutoReinstallStartAfter int64         `json:"autoReinstallStartAfter"`
	DevMode                 bool          `json:"devMode"`
}

// DefaultProvisionRequest returns the form defaults; the start time is one hour from now.
func DefaultProvisionRequest(now time.Time) ProvisionRequest {
	return ProvisionRequest{
		Speed:                   50000,
		RoundLength:             7,
		MapSize:                 100,
		StartTime:               now.UTC().Add(time.Hour).Format(StartTimeLayout),
		StartGold:               3600,
		ProtectionHours:         24,
		InstantFinishTraining:   true,
		BuyAdventure:            true,
		AutoReinstallStartAfter: 86400,
	}
}

// validated is a normalized request with its parsed start time.
type validated struct {
	ProvisionRequest
	start time.Time
}

func (r ProvisionRequest) normalize() ProvisionRequest {
	r.WorldID = strings.ToLower(strings.TrimSpace(r.WorldID))
	r.ServerName = strings.TrimSpace(r.ServerName)
	r.StartTime = strings.TrimSpace(r.StartTime)
	r.Database.Host = strings.TrimSpace(r.Database.Host)
	r.Database.User = strings.TrimSpace(r.Database.User)
	r.Database.Name = strings.TrimSpace(r.Database.Name)
	if r.Database.Name == "" && persistence.WorldIDPattern.MatchString(r.WorldID) {
		r.Database.Name = tenant.BuildDatabaseName(r.WorldID)
	}
	if r.ProtectionHours < 0 {
		r.ProtectionHours = 0
	}
	return r
}

// validate normalizes the request and collects every user-correctable problem.
func (r ProvisionRequest) validate() (validated, error) {
	r = r.normalize()
	var msgs []string

	if persistence.ValidateWorldID(r.WorldID) != nil {
		msgs = append(msgs, "World ID must be 1-32 chars [a-z0-9-].")
	}
	if r.ServerName == "" {
		msgs = append(msgs, "Server name is required.")
	}
	for _, f := range []struct{ name, value string }{
		{"db_host", r.Database.Host},
		{"db_user", r.Database.User},
		{"db_name", r.Database.Name},
	} {
		if f.value == "" {
			msgs = append(msgs, "Field '"+f.name+"' is required.")
		}
	}
	if r.Database.Name != "" && worlddb.SanitizeDatabaseName(r.Database.Name) == "" {
		msgs = append(msgs, "Database name must contain letters, digits or underscores.")
	}
	if len(r.AdminPassword) < 6 {
		msgs = append(msgs, "Admin password is required and must be at least 6 characters.")
	}
	if r.Speed <= 0 || r.RoundLength <= 0 || r.MapSize <= 0 {
		msgs = append(msgs, "Speed, round length and map size must be positive.")
	}
	start, err := ParseStartTime(r.StartTime)
	if err != nil {
		msgs = append(msgs, "Invalid start time.")
	}

	if len(msgs) > 0 {
		return validated{}, validationError(msgs...)
	}
	return validated{ProvisionRequest: r, start: start}, nil
}

// Validate reports the user-correctable problems of the request, if any.
func (r ProvisionRequest) Validate() error {
	_, err := r.validate()
	return err
}

// ParseStartTime parses YYYY-MM-DDTHH:MM as UTC.
func ParseStartTime(value string) (time.Time, error) {
	return time.ParseInLocation(StartTimeLayout, strings.TrimSpace(value), time.UTC)
}

// StepOutput is the exit code and combined output of one external process.
type StepOutput struct {
	ExitCode int
	Output   string
}

// ProvisioningResult is echoed back to the operator; it is not persisted.
type ProvisioningResult struct {
	Success       bool
	WorldUniqueID int64
	GameWorldURL  string
	DatabaseName  string
	ArchivedTo    string
	Installer     StepOutput
	Updater       StepOutput
}

// RuntimeConfig is the per-world config row seeded into the tenant database.
type RuntimeConfig struct {
	StartTime     int64
	MapSize       int
	WorldUniqueID int64
}

// Overlay is the generated runtime settings written to include/config.custom.yaml.
type Overlay struct {
	Gold struct {
		StartGold int `yaml:"startGold"`
	} `yaml:"gold"`
	Game struct {
		ProtectionTime int `yaml:"protectionTime"`
	} `yaml:"game"`
	ExtraSettings struct {
		BuyTroops      Purchase `yaml:"buyTroops"`
		BuyResources   Purchase `yaml:"buyResources"`
		BuyAnimals     Purchase `yaml:"buyAnimals"`
		GeneralOptions struct {
			FinishTraining Toggle `yaml:"finishTraining"`
			BuyAdventure   Toggle `yaml:"buyAdventure"`
		} `yaml:"generalOptions"`
	} `yaml:"extraSettings"`
}

type Purchase struct {
	Enabled     bool `yaml:"enabled"`
	BuyInterval int  `yaml:"buyInterval"`
}

type Toggle struct {
	Enabled bool `yaml:"enabled"`
}

// OverlayFor derives the config overlay from a request.
func OverlayFor(r ProvisionRequest) Overlay {
	var o Overlay
	o.Gold.StartGold = r.StartGold
	protection := r.ProtectionHours
	if protection < 0 {
		protection = 0
	}
	o.Game.ProtectionTime = protection * 3600
	o.ExtraSettings.BuyTroops = Purchase{Enabled: r.BuyTroops, BuyInterval: r.BuyTroopsInterval}
	o.ExtraSettings.BuyResources = Purchase{Enabled: r.BuyResources, BuyInterval: r.BuyResourcesInterval}
	o.ExtraSettings.BuyAnimals = Purchase{Enabled: r.BuyAnimals, BuyInterval: r.BuyAnimalsInterval}
	o.ExtraSettings.GeneralOptions.FinishTraining.Enabled = r.InstantFinishTraining
	o.ExtraSettings.GeneralOptions.BuyAdventure.Enabled = r.BuyAdventure
	return o
}
