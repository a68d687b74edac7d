// Package relayerhandler serves the relayer's request intake endpoint.
// oracle.Client is the matching client.
package relayerhandler
