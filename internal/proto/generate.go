// Package proto holds client bindings for the Wayland protocol extensions
// vidwall speaks beyond the core protocol. The XML under xml/ is trimmed to
// the requests the daemon sends, so the bindings carry no dependency on
// xdg_shell.
package proto

//go:generate go run github.com/rajveermalviya/go-wayland/cmd/go-wayland-scanner@v0.0.0-20230130181619-0ad78d1310b2 -pkg wlr_layer_shell -i xml/wlr-layer-shell-unstable-v1.xml -o wlr_layer_shell/layer_shell.go
//go:generate go run github.com/rajveermalviya/go-wayland/cmd/go-wayland-scanner@v0.0.0-20230130181619-0ad78d1310b2 -pkg wp_viewporter -i xml/viewporter.xml -o wp_viewporter/viewporter.go
