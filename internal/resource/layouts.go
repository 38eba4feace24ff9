package resource

import "runtime"

// Layout lists the candidate resource paths for one target platform.
// Earlier entries win: the primary bundle root comes before the alternate
// resources/ root.
type Layout struct {
	SidecarDir []string
	Runtime    []string
}

var unixLayout = Layout{
	SidecarDir: []string{
		"next-standalone",
		"resources/next-standalone",
	},
	Runtime: []string{
		"node-runtime/bin/node",
		"resources/node-runtime/bin/node",
	},
}

// Layouts maps GOOS to its resource layout. Platforms not listed use the
// "unix" entry.
var Layouts = map[string]Layout{
	"windows": {
		SidecarDir: []string{
			"next-standalone",
			"resources/next-standalone",
		},
		Runtime: []string{
			"node-runtime/node.exe",
			"resources/node-runtime/node.exe",
			"node-runtime/bin/node.exe",
			"resources/node-runtime/bin/node.exe",
		},
	},
	"unix": unixLayout,
}

// LayoutFor returns the layout for goos.
func LayoutFor(goos string) Layout {
	if l, ok := Layouts[goos]; ok {
		return l
	}
	return Layouts["unix"]
}

// CurrentLayout returns the layout for the running platform.
func CurrentLayout() Layout {
	return LayoutFor(runtime.GOOS)
}
