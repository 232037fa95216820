package schema

// wireField and wireSchema are the JSON-serializable mirror of
// Field/Schema. Type is written as its string name rather than the
// bare int so that a persisted schema object is self-describing and
// stable across any future reordering of the Type constants.
type wireField struct {
	Name     string      `json:"name"`
	Type     string      `json:"type"`
	Nullable bool        `json:"nullable"`
	Elem     *wireField  `json:"elem,omitempty"`
	Children []wireField `json:"children,omitempty"`
}

type wireSchema struct {
	Fields []wireField `json:"fields"`
}

func typeFromString(s string) Type {
	switch s {
	case "bool":
		return TypeBool
	case "int64":
		return TypeInt64
	case "float64":
		return TypeFloat64
	case "utf8":
		return TypeUtf8
	case "timestamp":
		return TypeTimestamp
	case "list":
		return TypeList
	case "struct":
		return TypeStruct
	default:
		return TypeNull
	}
}

func toWireField(f Field) wireField {
	wf := wireField{Name: f.Name, Type: f.Type.String(), Nullable: f.Nullable}
	if f.Type == TypeList && f.Elem != nil {
		elem := toWireField(*f.Elem)
		wf.Elem = &elem
	}
	if f.Type == TypeStruct {
		wf.Children = make([]wireField, len(f.Children))
		for i, c := range f.Children {
			wf.Children[i] = toWireField(c)
		}
	}
	return wf
}

func fromWireField(wf wireField) Field {
	f := Field{Name: wf.Name, Type: typeFromString(wf.Type), Nullable: wf.Nullable}
	if wf.Elem != nil {
		elem := fromWireField(*wf.Elem)
		f.Elem = &elem
	}
	if len(wf.Children) > 0 {
		f.Children = make(Schema, len(wf.Children))
		for i, c := range wf.Children {
			f.Children[i] = fromWireField(c)
		}
	}
	return f
}

func toWire(s Schema) wireSchema {
	w := wireSchema{Fields: make([]wireField, len(s))}
	for i, f := range s {
		w.Fields[i] = toWireField(f)
	}
	return w
}

func fromWire(w wireSchema) Schema {
	s := make(Schema, len(w.Fields))
	for i, wf := range w.Fields {
		s[i] = fromWireField(wf)
	}
	return s
}
