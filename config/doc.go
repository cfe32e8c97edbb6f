// Package config reads YAML launch manifests.
//
// A manifest names the binary and everything Start needs:
//
//	base_path: ./build/godot
//	main_pack: game.pck
//	locale: de_DE
//	memory_limit: 512MB
//	args: ["--fullscreen"]
//	preload:
//	  - source: https://cdn.example.com/extra.pck
//	    path: extra.pck
//	fs:
//	  mounts:
//	    - host_path: ./saves
//	      guest_path: /userfs
//
// memory_limit takes bytes or a humanized size and is rounded up to whole
// 64KiB pages.
package config
