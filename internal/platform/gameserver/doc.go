// Package gameserver resets the world of a freshly cloned Minecraft guest
// over SSH: stop the service, drop the world directories, write a new seed
// into server.properties and optionally start the service again.
//
// Every step is idempotent, so a failed sequence can simply be run again.
package gameserver
