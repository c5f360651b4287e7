package realtime

// Namespace groups event names. Outbound events live under NamespaceClient, inbound ones under
// NamespaceServer and notifications produced by the client itself under NamespaceLocal.
type Namespace string

const (
	// NamespaceLocal holds notifications raised by the client itself, such as EventClose.
	NamespaceLocal Namespace = ""
	// NamespaceClient holds events sent to the server.
	NamespaceClient Namespace = "client"
	// NamespaceServer holds events received from the server.
	NamespaceServer Namespace = "server"
)

// Key identifies an event for a Dispatcher. A Key with an empty Name is the wildcard of its
// namespace: listeners registered on it observe every event dispatched within that namespace.
type Key struct {
	Namespace Namespace
	Name      string
}

// ClientEvent returns the key of the outbound event name.
func ClientEvent(name string) Key { return Key{Namespace: NamespaceClient, Name: name} }

// ServerEvent returns the key of the inbound event name.
func ServerEvent(name string) Key { return Key{Namespace: NamespaceServer, Name: name} }

// LocalEvent returns the key of the client notification name.
func LocalEvent(name string) Key { return Key{Namespace: NamespaceLocal, Name: name} }

// AnyOf returns the wildcard key of ns.
func AnyOf(ns Namespace) Key { return Key{Namespace: ns} }

// IsWildcard reports whether k matches every event of its namespace.
func (k Key) IsWildcard() bool { return k.Name == "" }

// Wildcard returns the wildcard key covering k.
func (k Key) Wildcard() Key { return AnyOf(k.Namespace) }

func (k Key) String() string {
	name := k.Name
	if k.IsWildcard() {
		name = "*"
	}
	if k.Namespace == NamespaceLocal {
		return name
	}
	return string(k.Namespace) + "." + name
}
