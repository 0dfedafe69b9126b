package controller

// Key identifies a single cluster object by kind, namespace and name. It is
// comparable and therefore usable directly as a map key and work-queue item.
// Cluster-scoped objects leave Namespace empty.
type Key struct {
	Kind      string
	Namespace string
	Name      string
}

// String renders the key as kind/namespace/name, eliding the namespace for
// cluster-scoped objects.
func (k Key) String() string {
	if k.Namespace == "" {
		return k.Kind + "/" + k.Name
	}

	return k.Kind + "/" + k.Namespace + "/" + k.Name
}

// Less gives a total order over keys, useful for deterministic output in
// tests and listings.
func (k Key) Less(other Key) bool {
	if k.Kind != other.Kind {
		return k.Kind < other.Kind
	}

	if k.Namespace != other.Namespace {
		return k.Namespace < other.Namespace
	}

	return k.Name < other.Name
}
