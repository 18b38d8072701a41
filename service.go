package tally

// A Service answers one HTTP request made to an EndPoint's query surface.
type Service func(req Request) Response

// Filter vends a new service wrapped in the passed filter.
func (svc Service) Filter(f Filter) Service {
	return func(req Request) Response {
		return f(req, svc)
	}
}
