package pyast

// Walk calls fn for n and then for every node beneath it: depth-first,
// fields in declaration order, list elements left to right, which is the
// order of ast.NodeVisitor.generic_visit. If fn returns an error the walk
// stops and Walk returns it.
func Walk(n *Node, fn func(*Node) error) error {
	if n == nil {
		return nil
	}
	if err := fn(n); err != nil {
		return err
	}
	for _, f := range n.Fields {
		if err := walkValue(f.Value, fn); err != nil {
			return err
		}
	}
	return nil
}

func walkValue(v Value, fn func(*Node) error) error {
	switch v.Kind {
	case KindNode:
		return Walk(v.Node, fn)
	case KindList:
		for _, item := range v.List {
			if err := walkValue(item, fn); err != nil {
				return err
			}
		}
	}
	return nil
}
