// Package memory is the umbrella import for the memory system. It re-exports
// the types callers need so most programs can depend on this one package
// instead of reaching into the subpackages.
package memory

import (
	embedpkg "github.com/hadron-labs/hypnos/src/memory/embed"
	enginepkg "github.com/hadron-labs/hypnos/src/memory/engine"
	extractpkg "github.com/hadron-labs/hypnos/src/memory/extract"
	gatepkg "github.com/hadron-labs/hypnos/src/memory/gate"
	"github.com/hadron-labs/hypnos/src/memory/model"
	searchpkg "github.com/hadron-labs/hypnos/src/memory/search"
	sleeppkg "github.com/hadron-labs/hypnos/src/memory/sleep"
	storepkg "github.com/hadron-labs/hypnos/src/memory/store"
)

type (
	Engine          = enginepkg.Engine
	Options         = enginepkg.Options
	Metrics         = enginepkg.Metrics
	MetricsSnapshot = enginepkg.MetricsSnapshot
	StoreResult     = enginepkg.StoreResult
	ForgetResult    = enginepkg.ForgetResult
	TurnEvent       = enginepkg.TurnEvent

	Memory           = model.Memory
	Category         = model.Category
	ExtractionStatus = model.ExtractionStatus
	Scope            = model.Scope
	Entity           = model.Entity

	Role = gatepkg.Role

	MemoryStore       = storepkg.MemoryStore
	GraphStore        = storepkg.GraphStore
	SchemaInitializer = storepkg.SchemaInitializer
	InMemoryStore     = storepkg.InMemoryStore
	PostgresStore     = storepkg.PostgresStore
	Neo4jStore        = storepkg.Neo4jStore
	MongoStore        = storepkg.MongoStore

	Embedder      = embedpkg.Embedder
	DummyEmbedder = embedpkg.DummyEmbedder

	Extractor     = extractpkg.Extractor
	ExtractResult = extractpkg.Result

	SearchOptions = searchpkg.Options
	SleepParams   = sleeppkg.Params
	SleepStats    = sleeppkg.Stats
	SleepPhase    = sleeppkg.Phase
)

const (
	CategoryPreference   = model.CategoryPreference
	CategoryFact         = model.CategoryFact
	CategoryDecision     = model.CategoryDecision
	CategoryTask         = model.CategoryTask
	CategoryRelationship = model.CategoryRelationship
	CategorySkill        = model.CategorySkill
	CategoryEvent        = model.CategoryEvent
	CategoryOther        = model.CategoryOther

	RoleUser      = gatepkg.RoleUser
	RoleAssistant = gatepkg.RoleAssistant

	ContextMarker = gatepkg.ContextMarker
)

var (
	ErrConfig     = enginepkg.ErrConfig
	ErrProvider   = enginepkg.ErrProvider
	ErrStore      = enginepkg.ErrStore
	ErrValidation = enginepkg.ErrValidation

	ErrNotSupported = embedpkg.ErrNotSupported

	NewEngine = enginepkg.New

	NewInMemoryStore = storepkg.NewInMemoryStore
	NewPostgresStore = storepkg.NewPostgresStore
	NewNeo4jStore    = storepkg.NewNeo4jStore
	NewMongoStore    = storepkg.NewMongoStore

	AutoEmbedder        = embedpkg.AutoEmbedder
	DummyEmbedding      = embedpkg.DummyEmbedding
	NewOpenAIEmbedder   = embedpkg.NewOpenAIEmbedder
	NewVertexAIEmbedder = embedpkg.NewVertexAIEmbedder
	NewOllamaEmbedder   = embedpkg.NewOllamaEmbedder
	NewVoyageEmbedder   = embedpkg.NewVoyageEmbedder

	NewAnthropicExtractor = extractpkg.NewAnthropicExtractor

	DefaultSleepParams = sleeppkg.DefaultParams

	GateAccept = gatepkg.Accept
	GateReject = gatepkg.Reject
)
