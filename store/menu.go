package store

import "sync"

// Menu is the sidebar-visibility slice.
type Menu struct {
	mu     sync.RWMutex
	open   bool
	notify func()
}

func newMenu(open bool, notify func()) *Menu {
	return &Menu{open: open, notify: notify}
}

// SidebarOpen reports whether the sidebar is shown.
func (m *Menu) SidebarOpen() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.open
}

// ToggleSidebar flips the sidebar.
func (m *Menu) ToggleSidebar() {
	m.mu.Lock()
	m.open = !m.open
	m.mu.Unlock()
	m.changed()
}

// OpenSidebar shows the sidebar.
func (m *Menu) OpenSidebar() { m.set(true) }

// CloseSidebar hides the sidebar.
func (m *Menu) CloseSidebar() { m.set(false) }

func (m *Menu) set(v bool) {
	m.mu.Lock()
	same := m.open == v
	m.open = v
	m.mu.Unlock()
	if !same {
		m.changed()
	}
}

func (m *Menu) changed() {
	if m.notify != nil {
		m.notify()
	}
}
