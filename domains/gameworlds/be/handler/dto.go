package handler

import (
	"time"

	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/service"
)

type worldDTO struct {
	ID                     int64     `json:"id"`
	WorldID                string    `json:"worldId"`
	Name                   string    `json:"name"`
	Speed                  int64     `json:"speed"`
	Version                int       `json:"version"`
	GameWorldURL           string    `json:"gameWorldUrl"`
	StartTime              time.Time `json:"startTime"`
	RoundLength            int       `json:"roundLength"`
	PreregistrationKeyOnly bool      `json:"preregistrationKeyOnly"`
	Promoted               bool      `json:"promoted"`
	Hidden                 bool      `json:"hidden"`
	Finished               bool      `json:"finished"`
	RegisterClosed         bool      `json:"registerClosed"`
	Activation             bool      `json:"activation"`
	ConfigFileLocation     string    `json:"configFileLocation"`
	Archived               bool      `json:"archived"`
	RowVersion             int64     `json:"rowVersion"`
	CreatedAt              time.Time `json:"createdAt"`
}

type worldListDTO struct {
	Items []worldDTO `json:"items"`
}

type worldCheckDTO struct {
	WorldID string `json:"worldId"`
	Exists  bool   `json:"exists"`
}

type stepOutputDTO struct {
	ExitCode int    `json:"exitCode"`
	Output   string `json:"output"`
}

type provisioningResultDTO struct {
	Success       bool          `json:"success"`
	WorldUniqueID int64         `json:"worldUniqueId"`
	GameWorldURL  string        `json:"gameWorldUrl"`
	DatabaseName  string        `json:"databaseName,omitempty"`
	ArchivedTo    string        `json:"archivedTo,omitempty"`
	Installer     stepOutputDTO `json:"installer"`
	Updater       stepOutputDTO `json:"updater"`
}

type flagRequest struct {
	Field           string `json:"field"`
	Value           *bool  `json:"value"`
	ExpectedVersion *int64 `json:"expectedVersion"`
}

type timesRequest struct {
	StartTime   string `json:"startTime"`
	RoundLength int    `json:"roundLength"`
}

type csrfTokenDTO struct {
	Token string `json:"token"`
}

func toWorldDTO(w service.World) worldDTO {
	return worldDTO{
		ID:                     w.ID,
		WorldID:                w.WorldID,
		Name:                   w.Name,
		Speed:                  w.Speed,
		Version:                w.Version,
		GameWorldURL:           w.GameWorldURL,
		StartTime:              w.StartTime.UTC(),
		RoundLength:            w.RoundLength,
		PreregistrationKeyOnly: w.PreregistrationKeyOnly,
		Promoted:               w.Promoted,
		Hidden:                 w.Hidden,
		Finished:               w.Finished,
		RegisterClosed:         w.RegisterClosed,
		Activation:             w.Activation,
		ConfigFileLocation:     w.ConfigFileLocation,
		Archived:               w.Archived,
		RowVersion:             w.RowVersion,
		CreatedAt:              w.CreatedAt.UTC(),
	}
}

func toProvisioningResultDTO(r service.ProvisioningResult) provisioningResultDTO {
	return provisioningResultDTO{
		Success:       r.Success,
		WorldUniqueID: r.WorldUniqueID,
		GameWorldURL:  r.GameWorldURL,
		DatabaseName:  r.DatabaseName,
		ArchivedTo:    r.ArchivedTo,
		Installer:     stepOutputDTO{ExitCode: r.Installer.ExitCode, Output: r.Installer.Output},
		Updater:       stepOutputDTO{ExitCode: r.Updater.ExitCode, Output: r.Updater.Output},
	}
}
