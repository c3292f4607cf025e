package wizard

import (
	"github.com/charmbracelet/bubbles/textinput"
)

// step is the current screen in the init flow.
type step int

const (
	stepWelcome step = iota
	stepCheckExisting
	stepDialect
	stepTargetDetails
	stepTestTarget
	stepStateStore
	stepAddAnother
	stepSummary
	stepCreating
	stepDone
	stepError
)

// Model holds the state for the Bubble Tea init flow.
type Model struct {
	step step

	// Existing config detection
	existingConfigPath string
	existingEnvNames   []string

	// Current environment being configured
	currentEnv   EnvironmentInput
	environments []EnvironmentInput

	// Target probing
	probing     bool
	probeResult string
	probeError  error
	retryChoice int // 0=retry, 1=edit, 2=quit

	// Input fields
	inputs     []textinput.Model
	focusIndex int

	// Selection indexes
	dialectIndex    int
	stateStoreIndex int

	// State store URL entry, shown after a non-file store is selected
	stateInputActive bool
	stateInput       textinput.Model

	// Validation
	errors map[string]string

	// Final output
	result *InitResult
	err    error

	width  int
	height int
}

// EnvironmentInput holds user input for a single target environment.
type EnvironmentInput struct {
	Name    string
	Dialect string // "postgres" or "oracle"

	// postgres: live connection
	DatabaseURL string

	// oracle: catalog facts exported to a JSON file
	FactsPath string

	// Plan persistence: "file", "postgres", "sqlite", or "libsql"
	StateStore string
	StateURL   string
}

// InitResult reports what the generator wrote.
type InitResult struct {
	ConfigPath        string
	ConfigCreated     bool
	ConfigUpdated     bool
	EnvFiles          []string
	GitignoreUpdated  bool
	EnvExampleCreated bool
	EnvExampleUpdated bool
}

// DialectOption describes one selectable target dialect.
type DialectOption struct {
	ID          string
	DisplayName string
	Description string
}

var DialectOptions = []DialectOption{
	{
		ID:          "postgres",
		DisplayName: "PostgreSQL",
		Description: "live connection, plans executed directly",
	},
	{
		ID:          "oracle",
		DisplayName: "Oracle",
		Description: "offline, plans rendered from a catalog facts file",
	},
}

// StateStoreOption describes one selectable plan store.
type StateStoreOption struct {
	ID          string
	DisplayName string
	Description string
}

var StateStoreOptions = []StateStoreOption{
	{
		ID:          "file",
		DisplayName: "State file",
		Description: "JSON file next to the config",
	},
	{
		ID:          "sqlite",
		DisplayName: "SQLite",
		Description: "local database file",
	},
	{
		ID:          "postgres",
		DisplayName: "PostgreSQL",
		Description: "shared with the team",
	},
	{
		ID:          "libsql",
		DisplayName: "libSQL/Turso",
		Description: "remote, shared with the team",
	},
}
