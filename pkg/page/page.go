// Package page is a terminal rendition of the web page a tab context runs
// in: the phone numbers found on it carry click-to-dial icons and the call
// status dialog is printed as it changes.
package page

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"clicktodial/pkg/dialer"
)

// IconClass is the class carried by every click-to-dial icon.
const IconClass = "voipgrid-phone-icon"

// Icon marks one phone number on the page.
type Icon struct {
	Number string
	Class  string

	mu       sync.Mutex
	disabled bool
}

func (i *Icon) SetDisabled(disabled bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.disabled = disabled
}

func (i *Icon) Disabled() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.disabled
}

// CallStatus is the call status dialog.
type CallStatus struct {
	BNumber string
	Status  string
}

// Page holds the annotated numbers and the open dialog, if any.
type Page struct {
	URL string
	out io.Writer

	mu     sync.Mutex
	icons  []*Icon
	status *CallStatus
}

// New annotates numbers on a page at url. Status changes are written to out.
func New(url string, numbers []string, out io.Writer) *Page {
	if out == nil {
		out = io.Discard
	}

	p := &Page{URL: url, out: out}
	for _, number := range numbers {
		number = strings.TrimSpace(number)
		if number == "" {
			continue
		}
		p.icons = append(p.icons, &Icon{Number: number, Class: IconClass})
	}

	return p
}

// Icons returns every icon on the page.
func (p *Page) Icons() []*Icon {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*Icon, len(p.icons))
	copy(out, p.icons)
	return out
}

// IconElements returns the elements carrying IconClass.
func (p *Page) IconElements() []dialer.Element {
	var elements []dialer.Element
	for _, icon := range p.Icons() {
		if icon.Class == IconClass {
			elements = append(elements, icon)
		}
	}

	return elements
}

// Click disables the icon of number while its call is set up and returns
// the number to dial.
func (p *Page) Click(number string) (string, error) {
	for _, icon := range p.Icons() {
		if icon.Number != number {
			continue
		}
		if icon.Disabled() {
			return "", fmt.Errorf("icon for %s is disabled", number)
		}
		icon.SetDisabled(true)
		return icon.Number, nil
	}

	return "", fmt.Errorf("no click-to-dial icon for %s", number)
}

func (p *Page) ShowCallStatus(bNumber, status string) error {
	if strings.TrimSpace(bNumber) == "" {
		return errors.New("b number is required")
	}

	p.mu.Lock()
	p.status = &CallStatus{BNumber: bNumber, Status: status}
	p.mu.Unlock()

	fmt.Fprintf(p.out, "[call] %s: %s\n", bNumber, status)
	return nil
}

func (p *Page) UpdateCallStatus(status string) {
	p.mu.Lock()
	if p.status == nil || p.status.Status == status {
		p.mu.Unlock()
		return
	}
	p.status.Status = status
	bNumber := p.status.BNumber
	p.mu.Unlock()

	fmt.Fprintf(p.out, "[call] %s: %s\n", bNumber, status)
}

func (p *Page) RemoveCallStatus() {
	p.mu.Lock()
	removed := p.status != nil
	p.status = nil
	p.mu.Unlock()

	if removed {
		fmt.Fprintln(p.out, "[call] closed")
	}
}

// Status returns the open dialog.
func (p *Page) Status() (CallStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status == nil {
		return CallStatus{}, false
	}
	return *p.status, true
}
