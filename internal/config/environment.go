package config

import (
	"github.com/kelseyhightower/envconfig"

	"github.com/benchlane/benchcore/internal/component"
)

// Environment variables read by every component.
const (
	EnvGeneratorID    = "HOBBIT_GENERATOR_ID"
	EnvGeneratorCount = "HOBBIT_GENERATOR_COUNT"
	EnvSessionID      = "HOBBIT_SESSION_ID"
	EnvRabbitHost     = "HOBBIT_RABBIT_HOST"
)

// Queue and exchange names shared by the pipeline stages. Queue names are
// suffixed with the session id, see SessionQueueName.
const (
	QueueDataGenToTaskGen     = "hobbit.datagen-taskgen"
	QueueDataGenToSystem      = "hobbit.datagen-system"
	QueueTaskGenToSystem      = "hobbit.taskgen-system"
	QueueTaskGenToEvalStorage = "hobbit.taskgen-evalstore"
	CommandExchangeName       = "hobbit.command"
)

// Environment holds platform level settings that are not specific to a
// component instance.
type Environment struct {
	SessionID  string `envconfig:"HOBBIT_SESSION_ID" default:"default"`
	RabbitHost string `envconfig:"HOBBIT_RABBIT_HOST"`
}

// LoadEnvironment reads the platform environment.
func LoadEnvironment() (Environment, error) {
	var env Environment
	if err := envconfig.Process("", &env); err != nil {
		return env, component.ConfigurationError("%v", err)
	}
	return env, nil
}

// SessionQueueName returns the name of a queue scoped to a session.
func SessionQueueName(name, sessionID string) string {
	return name + "." + sessionID
}

//------------------------------------------------------------------------------

// Identity places one instance among its siblings: Ordinal is the zero based
// index of this instance and Count the number of siblings.
type Identity struct {
	Ordinal int
	Count   int
}

type identitySpec struct {
	Ordinal int `envconfig:"HOBBIT_GENERATOR_ID" required:"true"`
	Count   int `envconfig:"HOBBIT_GENERATOR_COUNT" required:"true"`
}

// NewIdentity validates an ordinal and count pair.
func NewIdentity(ordinal, count int) (Identity, error) {
	if ordinal < 0 {
		return Identity{}, component.ConfigurationError("%v must be a non-negative integer, got %v", EnvGeneratorID, ordinal)
	}
	if count <= 0 {
		return Identity{}, component.ConfigurationError("%v must be a positive integer, got %v", EnvGeneratorCount, count)
	}
	if ordinal >= count {
		return Identity{}, component.ConfigurationError("%v (%v) must be lower than %v (%v)", EnvGeneratorID, ordinal, EnvGeneratorCount, count)
	}
	return Identity{Ordinal: ordinal, Count: count}, nil
}

// LoadIdentity reads the instance ordinal and sibling count from the
// environment. Either value missing or malformed results in an error wrapping
// component.ErrConfiguration.
func LoadIdentity() (Identity, error) {
	var spec identitySpec
	if err := envconfig.Process("", &spec); err != nil {
		return Identity{}, component.ConfigurationError("couldn't read the instance identity from the environment: %v", err)
	}
	return NewIdentity(spec.Ordinal, spec.Count)
}
