// state/interfaces.go
package state

// BattleContext is what a phase needs from the client that owns the machine.
// This keeps the state package free of engine and transport imports.
type BattleContext interface {
	GetSessionID() string
	GetPlayerID() string
	// PhaseEntered is called after the machine has switched to phase.
	PhaseEntered(phase string)
}
