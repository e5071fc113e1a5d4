package actions

import (
	"github.com/Plabrum/arive/internal/audit"
	"github.com/Plabrum/arive/internal/config"
	"github.com/Plabrum/arive/internal/extract"
	"github.com/Plabrum/arive/internal/mail"
	"github.com/Plabrum/arive/internal/objects"
	"github.com/Plabrum/arive/internal/sqid"
	"github.com/Plabrum/arive/internal/storage"
	"github.com/Plabrum/arive/internal/store"
	"github.com/Plabrum/arive/internal/tasks"
)

// Deps is the shared collaborator bundle handed to every action. Wired once
// at startup and treated as read-only afterwards.
type Deps struct {
	Store   *store.Store
	Objects *objects.Registry
	Engine  *objects.Engine
	Audit   *audit.Recorder
	Mailer  mail.Mailer
	Storage storage.Storage
	Extract *extract.Client
	Tasks   *tasks.Queue
	Sqids   *sqid.Codec
	Config  *config.Config
}
