// Package clock abstracts time so timer-driven code can be tested
// deterministically.
//
// Production code uses Real(). Tests use Fake(t) and move time forward
// explicitly with Advance, which fires every timer whose deadline has
// passed, in deadline order, including timers armed by callbacks that
// ran during the same Advance.
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	c.AfterFunc(time.Second, func() { fmt.Println("tick") })
//	c.Advance(time.Second) // prints "tick"
package clock
