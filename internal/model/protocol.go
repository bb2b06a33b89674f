package model

// Protocol is an inscription-based protocol tag a transaction can carry.
// The zero value means "no protocol detected".
type Protocol string

// Supported protocol tags.
const (
	ProtocolNone    Protocol = ""
	ProtocolKRC     Protocol = "KRC"
	ProtocolKNS     Protocol = "KNS"
	ProtocolKasia   Protocol = "Kasia"
	ProtocolKasplex Protocol = "Kasplex"
	ProtocolKSocial Protocol = "KSocial"
	ProtocolIgra    Protocol = "Igra"
)
