package markup

// Context holds the variables and flags of a single render. A key that is
// present with an empty value is a flag. A Context is created per render
// and must not be shared between goroutines.
type Context struct {
	vars   map[string]string
	handle interface{}
}

// NewContext returns an empty context carrying an opaque handle that is
// forwarded untouched to template functions.
func NewContext(handle interface{}) *Context {
	return &Context{
		vars:   make(map[string]string),
		handle: handle,
	}
}

// Set assigns a variable.
func (c *Context) Set(name, value string) {
	c.vars[name] = value
}

// SetFlag marks name as present without a value.
func (c *Context) SetFlag(name string) {
	c.vars[name] = ""
}

// Delete removes a variable or flag.
func (c *Context) Delete(name string) {
	delete(c.vars, name)
}

// Get returns the value of name and whether it is present.
func (c *Context) Get(name string) (string, bool) {
	v, ok := c.vars[name]
	return v, ok
}

// Has reports whether name is present, with or without a value.
func (c *Context) Has(name string) bool {
	_, ok := c.vars[name]
	return ok
}

// Handle returns the opaque value supplied by the request layer.
func (c *Context) Handle() interface{} {
	return c.handle
}

// Len returns the number of variables and flags.
func (c *Context) Len() int {
	return len(c.vars)
}
