//go:build !windows

package agent

func windowProvider() Capability[TextProvider] {
	return Unavailable[TextProvider]()
}
