package bytecode

import (
	"fmt"

	yaml "gopkg.in/yaml.v3"

	"github.com/715d/jflow/pkg/jtype"
)

// Class is a set of decoded methods declared by one class.
type Class struct {
	Name    string
	Methods []*Method
}

// classFile is the YAML form of a class: method headers plus assembled code.
type classFile struct {
	Class   string       `yaml:"class"`
	Methods []methodFile `yaml:"methods"`
}

type methodFile struct {
	Name       string `yaml:"name"`
	Descriptor string `yaml:"descriptor"`
	Static     bool   `yaml:"static,omitempty"`
	Code       string `yaml:"code"`
}

// DecodeClass parses a YAML class description:
//
//	class: com/example/Foo
//	methods:
//	  - name: bar
//	    descriptor: (Ljava/lang/String;)V
//	    static: true
//	    code: |
//	      aload_0
//	      invokevirtual java/lang/String/length()I
//	      pop
//	      return
//
// Method bodies use the syntax of Assemble.
func DecodeClass(data []byte, resolver *jtype.Resolver) (*Class, error) {
	var cf classFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("decode class: %w", err)
	}
	if cf.Class == "" {
		return nil, fmt.Errorf("decode class: missing class name")
	}
	class := &Class{Name: cf.Class}
	for _, mf := range cf.Methods {
		m, err := mf.method(cf.Class, resolver)
		if err != nil {
			return nil, fmt.Errorf("class %s: %w", cf.Class, err)
		}
		class.Methods = append(class.Methods, m)
	}
	return class, nil
}

func (mf methodFile) method(class string, resolver *jtype.Resolver) (*Method, error) {
	sig, err := resolver.Method(mf.Descriptor)
	if err != nil {
		return nil, fmt.Errorf("method %s: %w", mf.Name, err)
	}
	code, err := AssembleString(mf.Code)
	if err != nil {
		return nil, fmt.Errorf("method %s%s: %w", mf.Name, mf.Descriptor, err)
	}
	params := sig.ArgSlots()
	if !mf.Static {
		params++
	}
	m := &Method{
		Class:      class,
		Name:       mf.Name,
		Descriptor: mf.Descriptor,
		Static:     mf.Static,
		MaxStack:   code.MaxStack,
		MaxLocals:  max(code.MaxLocals, params),
		Code:       code.Instructions,
		Handlers:   code.Handlers,
		Lines:      code.Lines,
		Locals:     code.Locals,
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
