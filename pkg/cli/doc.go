// Package cli implements the bridge administration commands.
//
// # Overview
//
// The commands manage the external-to-local mapping tables directly
// against the bridge database. They are meant for operators, not end
// users; the login flow itself never shells out to them.
//
// # Commands
//
//	link-group        Link an external group UUID to a local group
//	unlink-group      Remove the mapping for an external group UUID
//	list-groups       List configured group mappings
//	prune-identities  List or remove identity mappings past retention
//
// # Usage Example
//
//	oidcbridge link-group --external-uuid 9fdbe6a3-... --group developers --create-missing
//	oidcbridge list-groups
//	oidcbridge prune-identities --retention 8760h --delete
package cli
