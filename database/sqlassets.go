package sqlassets

import _ "embed"

// RegistrySQL creates the shared registry schema holding one row per game world.
//
//go:embed schema/registry/game_servers.sql
var RegistrySQL string

// WorldSchemaSQL is the default per-world MySQL schema imported during provisioning
// when no SCHEMA_FILE override is configured.
//
//go:embed schema/world/world.sql
var WorldSchemaSQL string
