package pipeline

import "fmt"

// MergeUserDataNodes merges two sibling node lists that describe the user
// data layout two stages expect at the same dword offsets. Both inputs must
// be sorted by ascending, non-overlapping offset. Nodes at the same offset
// must agree; table pointers are merged recursively.
//
// When either list is empty the other is returned as is. The inputs are
// never modified.
func MergeUserDataNodes(a, b []ResourceMappingNode) ([]ResourceMappingNode, error) {
	if len(a) == 0 {
		return b, nil
	}
	if len(b) == 0 {
		return a, nil
	}

	out := make([]ResourceMappingNode, 0, len(a)+len(b))
	var last uint32
	emit := func(n ResourceMappingNode) error {
		if n.OffsetInDwords < last {
			return fmt.Errorf("node at dword %d starts before dword %d: %w", n.OffsetInDwords, last, ErrOverlappingNodes)
		}
		out = append(out, n)
		last = n.End()
		return nil
	}

	i, j := 0, 0
	for i < len(a) && j < len(b) {
		n1, n2 := &a[i], &b[j]
		switch {
		case n1.OffsetInDwords < n2.OffsetInDwords:
			if err := emit(*n1); err != nil {
				return nil, err
			}
			i++
		case n2.OffsetInDwords < n1.OffsetInDwords:
			if err := emit(*n2); err != nil {
				return nil, err
			}
			j++
		default:
			merged, err := mergeNode(n1, n2)
			if err != nil {
				return nil, err
			}
			if err := emit(merged); err != nil {
				return nil, err
			}
			i++
			j++
		}
	}

	for ; i < len(a); i++ {
		if err := emit(a[i]); err != nil {
			return nil, err
		}
	}
	for ; j < len(b); j++ {
		if err := emit(b[j]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// mergeNode merges two nodes that start at the same offset.
func mergeNode(n1, n2 *ResourceMappingNode) (ResourceMappingNode, error) {
	if n1.Type != n2.Type || n1.SizeInDwords != n2.SizeInDwords {
		return ResourceMappingNode{}, fmt.Errorf("dword %d: %s[%d] vs %s[%d]: %w",
			n1.OffsetInDwords, n1.Type, n1.SizeInDwords, n2.Type, n2.SizeInDwords, ErrMismatchedNodes)
	}

	if n1.Type == NodeDescriptorTableVaPtr {
		table, err := MergeUserDataNodes(n1.Table, n2.Table)
		if err != nil {
			return ResourceMappingNode{}, fmt.Errorf("table at dword %d: %w", n1.OffsetInDwords, err)
		}
		merged := *n1
		merged.Table = table
		return merged, nil
	}

	if !sameNode(n1, n2) {
		return ResourceMappingNode{}, fmt.Errorf("dword %d: %s nodes differ: %w", n1.OffsetInDwords, n1.Type, ErrMismatchedNodes)
	}
	return *n1, nil
}

func sameNode(n1, n2 *ResourceMappingNode) bool {
	return n1.Type == n2.Type &&
		n1.SizeInDwords == n2.SizeInDwords &&
		n1.OffsetInDwords == n2.OffsetInDwords &&
		n1.SRD == n2.SRD &&
		n1.UserDataPtrSize == n2.UserDataPtrSize
}

// FuseUserDataNodes gives stages that execute as one hardware shader a
// shared user data layout: VS and TCS when tessellation is present, and the
// stage feeding the GS (TES or VS) together with the GS.
//
// info is modified in place and must be a build-scoped copy obtained from
// CloneStages. The caller decides whether the hardware fuses stages at all.
func FuseUserDataNodes(info *GraphicsPipelineBuildInfo) error {
	hasTs := info.TCS.Active() || info.TES.Active()

	if info.VS.Active() && info.TCS.Active() {
		merged, err := MergeUserDataNodes(info.VS.UserDataNodes, info.TCS.UserDataNodes)
		if err != nil {
			return NewStageError(StageTessControl, PhaseMerge, err)
		}
		info.VS.UserDataNodes = merged
		info.TCS.UserDataNodes = merged
	}

	if !info.GS.Active() {
		return nil
	}
	es := &info.VS
	if hasTs {
		es = &info.TES
	}
	if !es.Active() {
		return nil
	}
	merged, err := MergeUserDataNodes(es.UserDataNodes, info.GS.UserDataNodes)
	if err != nil {
		return NewStageError(StageGeometry, PhaseMerge, err)
	}
	es.UserDataNodes = merged
	info.GS.UserDataNodes = merged
	return nil
}
