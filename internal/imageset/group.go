package imageset

// Group clusters images by capture identifier in one pass. Images without an
// identifier yield a *GroupingError; a group that cannot form a valid Capture
// yields the *IntegrityError from NewCapture and is left out. Captures come
// back in first-seen order.
func Group(images []*Image) ([]*Capture, []error) {
	var (
		order []string
		byID  = make(map[string][]*Image)
		errs  []error
	)
	for _, im := range images {
		id := im.CaptureID()
		if id == "" {
			errs = append(errs, &GroupingError{Path: im.Path()})
			continue
		}
		if _, ok := byID[id]; !ok {
			order = append(order, id)
		}
		byID[id] = append(byID[id], im)
	}

	captures := make([]*Capture, 0, len(order))
	for _, id := range order {
		c, err := NewCapture(byID[id])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		captures = append(captures, c)
	}
	return captures, errs
}
