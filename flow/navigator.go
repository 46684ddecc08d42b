package flow

import "sync"

type Screen string

const (
	ScreenHome             Screen = "home"
	ScreenBiometricCapture Screen = "biometric_capture"
	ScreenDocumentCapture  Screen = "document_capture"
	ScreenProcessing       Screen = "processing"
	ScreenResult           Screen = "result"
)

// Navigator is the screen stack the flow drives.
type Navigator interface {
	// Show brings s to the top. It does nothing when s is already on top
	// and pops back to s when s is deeper in the stack.
	Show(s Screen) bool
	PopToRoot()
	Screens() []Screen
}

// Stack is an in-memory Navigator whose contents are reported to the client.
type Stack struct {
	mutex   sync.Mutex
	screens []Screen
}

func NewStack(root Screen) *Stack {
	return &Stack{screens: []Screen{root}}
}

func (st *Stack) Show(s Screen) bool {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	top := len(st.screens) - 1
	if st.screens[top] == s {
		return false
	}
	for i := top - 1; i >= 1; i-- {
		if st.screens[i] == s {
			st.screens = st.screens[:i+1]
			return true
		}
	}
	st.screens = append(st.screens, s)
	return true
}

func (st *Stack) PopToRoot() {
	st.mutex.Lock()
	defer st.mutex.Unlock()
	st.screens = st.screens[:1]
}

func (st *Stack) Screens() []Screen {
	st.mutex.Lock()
	defer st.mutex.Unlock()
	return append([]Screen(nil), st.screens...)
}
