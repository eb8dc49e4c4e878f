package dispatch

import "github.com/thorsanvil/nisse/pathmatch"

// HandlerFunc is the shape a route handler actually needs: the built
// Request and the accumulating Response, as a plain Go closure (the Open
// Question (1) resolution recorded in DESIGN.md). pathmatch.Action stays
// Variables-only
// so the pathmatch package has no dependency on this one; Handle bridges
// the two by keying a side table off the *pathmatch.Route AddRoute returns.
type HandlerFunc func(req *Request, resp *Response) bool

// Handle registers a route on the Dispatcher's Matcher and associates it
// with handler, invoked with the full Request/Response pair once the
// route's path/method/validator all accept a request.
func (d *Dispatcher) Handle(method pathmatch.MethodChoice, template string, handler HandlerFunc, validate pathmatch.Validator) error {
	route, err := d.Matcher.AddRoute(method, template, func(pathmatch.Variables) bool { return true }, validate)
	if err != nil {
		return err
	}
	d.handlersMu.Lock()
	d.handlers[route] = handler
	d.handlersMu.Unlock()
	return nil
}

func (d *Dispatcher) handlerFor(route *pathmatch.Route) HandlerFunc {
	d.handlersMu.RLock()
	defer d.handlersMu.RUnlock()
	return d.handlers[route]
}
