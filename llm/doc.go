// Package llm defines the AI-provider collaborator boundary consumed by
// the stream orchestrator. Concrete network providers live outside this
// module; ScriptedProvider is included for development and tests.
package llm
