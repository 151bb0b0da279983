// Package main (cmd/storectl) inspects and edits a namespace of a configured store.
//
// The backend is chosen with --backend or database.type in the configuration
// file, and every command operates on the namespace given with --namespace:
//
//	storectl -n plugins blob put cogs/music/main.py ./main.py
//	storectl -n plugins blob get cogs/music/main.py
//	storectl -n plugins blob ls
//	storectl -n plugins blob rm cogs/music/main.py
//	storectl -n plugins value set music '{"installed":true}'
//	storectl -n plugins value get music
//	storectl -n plugins value rm music
//	storectl -n plugins status
//
// Values are read and printed as JSON. A missing blob or value exits with a
// non-zero status.
package main
