// Package schema provides the validators referenced by workflow field specs.
//
// It defines a simple type system with built-in types (string, int, float, bool,
// email, phone, nonempty), slices of them and custom validators. Types that
// implement Coercer convert raw user text before validation, so "3" becomes
// an int and "a, b" becomes a list.
//
// Field specs refer to validators by name:
//
//	v := schema.NewValidators()
//	qty, err := v.Apply("int", " 3 ")        // 3
//	ids, err := v.Apply("[string]", "p1, p2") // []any{"p1", "p2"}
//
// Custom validators can be registered for domain-specific rules:
//
//	v.Register(schema.Custom("sku", func(x any) error {
//	    s, _ := x.(string)
//	    if !strings.HasPrefix(s, "SKU-") {
//	        return fmt.Errorf("must start with SKU-")
//	    }
//	    return nil
//	}))
//
// Schemas map field names to types and validate whole maps, which the runtime
// uses as a last check on the data handed to an action.
package schema
